// Package docs provides generated OpenAPI documentation.
//
// magicscan API
//
//	@title			magicscan API
//	@version		1.0
//	@description	Vision model section detection and value extraction for scanned documents.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/magicscan
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/magicscan/serve.go -o . --outputTypes go --parseDependency --parseInternal
