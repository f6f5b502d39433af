package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/prompts"
	"github.com/jackzampolin/magicscan/version"
)

// buildInfo is what "magicscan version" prints. Prompts maps each template
// key to the hash recorded on model calls made with it.
type buildInfo struct {
	Release    string            `json:"release" yaml:"release"`
	Commit     string            `json:"commit" yaml:"commit"`
	CommitDate string            `json:"commit_date" yaml:"commit_date"`
	Go         string            `json:"go" yaml:"go"`
	Prompts    map[string]string `json:"prompts" yaml:"prompts"`
}

func currentBuild() buildInfo {
	info := buildInfo{
		Release:    version.GitRelease,
		Commit:     version.GitCommit,
		CommitDate: version.GitCommitDate,
		Go:         version.GoInfo,
		Prompts:    map[string]string{},
	}
	for _, p := range prompts.DefaultRegistry(nil).All() {
		info.Prompts[p.Key] = p.Hash
	}
	return info
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and prompt template versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return api.Output(currentBuild())
	},
}
