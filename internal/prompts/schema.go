package prompts

// DetectionSchema is the JSON schema for detection output.
// It is permissive on field types: models often emit levels as strings.
const DetectionSchema = `{
  "type": "object",
  "required": ["sections"],
  "properties": {
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": ["string", "null"]},
          "level": {"type": ["integer", "number", "string", "null"]},
          "type": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

// ExtractionSchema is the JSON schema for extraction output.
// Values may be lists when several values are visible for one section.
const ExtractionSchema = `{
  "type": "object",
  "required": ["extracted_values"],
  "properties": {
    "extracted_values": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["section"],
        "properties": {
          "section": {"type": "string"},
          "value": {"type": ["string", "number", "boolean", "array", "null"]},
          "confidence": {"type": ["number", "string", "null"]}
        }
      }
    }
  }
}`
