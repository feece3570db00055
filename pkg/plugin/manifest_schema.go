package plugin

// ManifestSchema is the JSON Schema for plugin manifest validation.
// Go's regexp has no lookahead, so the entrypoint exclusions are expressed
// with "not".
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["id", "name", "version", "description", "author", "license", "permissions", "entrypoint"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 3,
      "maxLength": 128,
      "pattern": "^[a-z][a-z0-9]*(\\.[a-z][a-z0-9-]*)+$",
      "description": "Reverse-domain plugin identifier"
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128
    },
    "version": {
      "type": "string",
      "pattern": "^(0|[1-9]\\d*)\\.(0|[1-9]\\d*)\\.(0|[1-9]\\d*)(?:-((?:0|[1-9]\\d*|\\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\\.(?:0|[1-9]\\d*|\\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\\+([0-9a-zA-Z-]+(?:\\.[0-9a-zA-Z-]+)*))?$",
      "description": "Semantic version 2.0"
    },
    "description": {
      "type": "string",
      "maxLength": 1024
    },
    "author": {
      "type": "string",
      "minLength": 1,
      "maxLength": 256
    },
    "license": {
      "type": "string",
      "enum": ["MIT", "Apache-2.0", "BSD-2-Clause", "BSD-3-Clause", "ISC", "MPL-2.0", "LGPL-3.0", "GPL-3.0", "AGPL-3.0"]
    },
    "permissions": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "network": {
          "type": "object",
          "additionalProperties": false,
          "required": ["allowedDomains"],
          "properties": {
            "allowedDomains": {
              "type": "array",
              "maxItems": 20,
              "uniqueItems": true,
              "items": { "type": "string", "minLength": 1, "maxLength": 253 }
            }
          }
        },
        "storage": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "maxSize": {
              "type": "integer",
              "minimum": 0,
              "maximum": 104857600
            }
          }
        },
        "hooks": {
          "type": "array",
          "maxItems": 50,
          "uniqueItems": true,
          "items": { "type": "string", "minLength": 1 }
        }
      }
    },
    "entrypoint": {
      "type": "string",
      "minLength": 1,
      "maxLength": 256,
      "pattern": "\\.m?js$",
      "not": {
        "anyOf": [
          { "pattern": "^/" },
          { "pattern": "\\.\\." }
        ]
      }
    },
    "dependencies": {
      "type": "array",
      "maxItems": 10,
      "uniqueItems": true,
      "items": {
        "type": "string",
        "pattern": "^[a-z][a-z0-9]*(\\.[a-z][a-z0-9-]*)+$"
      }
    }
  }
}`
