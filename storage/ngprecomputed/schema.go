package ngprecomputed

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// infoSchema covers the subset of the precomputed info format this store reads
// and writes.  Unknown properties like "mesh" or "sharding" are allowed.
const infoSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["data_type", "num_channels", "scales", "type"],
	"properties": {
		"@type": {"const": "neuroglancer_multiscale_volume"},
		"type": {"enum": ["image", "segmentation"]},
		"data_type": {"enum": ["uint8", "int8", "uint16", "int16", "uint32", "int32", "uint64", "int64", "float32", "float64"]},
		"num_channels": {"type": "integer", "minimum": 1},
		"scales": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["key", "size", "resolution", "chunk_sizes"],
				"properties": {
					"key": {"type": "string", "minLength": 1},
					"encoding": {"const": "raw"},
					"size": {"$ref": "#/definitions/intTriple"},
					"voxel_offset": {"$ref": "#/definitions/intTriple"},
					"resolution": {
						"type": "array",
						"items": {"type": "number", "exclusiveMinimum": 0},
						"minItems": 3,
						"maxItems": 3
					},
					"chunk_sizes": {
						"type": "array",
						"minItems": 1,
						"items": {"$ref": "#/definitions/intTriple"}
					}
				}
			}
		}
	},
	"definitions": {
		"intTriple": {
			"type": "array",
			"items": {"type": "integer"},
			"minItems": 3,
			"maxItems": 3
		}
	}
}`

var compiledInfoSchema = jsonschema.MustCompileString("info.schema.json", infoSchema)

func validateInfoJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return compiledInfoSchema.Validate(v)
}
