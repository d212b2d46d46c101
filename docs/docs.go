// Package docs registers the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/api/v1/conversations/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["conversations"],
                "summary": "Get conversation",
                "parameters": [{"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Conversation"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/v1/conversations/{id}/settings": {
            "patch": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["conversations"],
                "summary": "Update conversation settings",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"description": "Settings to change", "name": "settings", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.UpdateSettingsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Conversation"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/v1/conversations/{id}/turns": {
            "get": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["turns"],
                "summary": "List turns",
                "parameters": [{"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.Turn"}}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "description": "Stores the turn and queues it for cleaning. The cleaned result is delivered over the events stream.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["turns"],
                "summary": "Submit a turn",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"description": "Turn", "name": "turn", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.CreateTurnRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/api.CreateTurnResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/v1/conversations/{id}/queue": {
            "get": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["queue"],
                "summary": "Conversation queue status",
                "parameters": [{"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/queue.Metrics"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/v1/conversations/{id}/events": {
            "get": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "description": "Emits a \"turn\" event for each turn of the conversation that reaches a terminal state, and a \"ping\" event periodically.",
                "produces": ["text/event-stream"],
                "tags": ["realtime"],
                "summary": "Stream finished turns (SSE)",
                "parameters": [{"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/realtime.Event"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/v1/conversations/{id}/ws": {
            "get": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "tags": ["realtime"],
                "summary": "Stream finished turns (WebSocket)",
                "parameters": [{"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "101": {"description": "Switching Protocols", "schema": {"$ref": "#/definitions/realtime.Event"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/api/v1/queue": {
            "get": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["queue"],
                "summary": "Queue status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/queue.Metrics"}}
                }
            }
        },
        "/api/v1/turns/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["turns"],
                "summary": "Get turn",
                "parameters": [{"type": "string", "description": "Turn ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Turn"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.CreateTurnRequest": {
            "type": "object",
            "required": ["speaker", "text"],
            "properties": {
                "cleaning_level": {"type": "string", "example": "full"},
                "speaker": {"type": "string", "example": "User"},
                "text": {"type": "string", "example": "um hi"}
            }
        },
        "api.CreateTurnResponse": {
            "type": "object",
            "properties": {"turn_id": {"type": "string"}}
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "api.UpdateSettingsRequest": {
            "type": "object",
            "properties": {
                "cleaning_level": {"type": "string"},
                "model_params": {"$ref": "#/definitions/models.ModelParams"},
                "skip_transcription_errors": {"type": "boolean"},
                "window_size": {"type": "integer"}
            }
        },
        "models.Correction": {
            "type": "object",
            "properties": {
                "confidence": {"type": "string"},
                "corrected": {"type": "string"},
                "original": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "models.ModelParams": {
            "type": "object",
            "properties": {
                "max_tokens": {"type": "integer"},
                "temperature": {"type": "number"},
                "top_k": {"type": "integer"},
                "top_p": {"type": "number"}
            }
        },
        "models.Conversation": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "turn_ids": {"type": "array", "items": {"type": "string"}},
                "window_size": {"type": "integer"},
                "cleaning_level": {"type": "string", "enum": ["none", "light", "full"]},
                "skip_transcription_errors": {"type": "boolean"},
                "model_params": {"$ref": "#/definitions/models.ModelParams"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "models.Turn": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "conversation_id": {"type": "string"},
                "sequence": {"type": "integer"},
                "speaker": {"type": "string", "enum": ["User", "Lumen", "AI"]},
                "raw_text": {"type": "string"},
                "cleaned_text": {"type": "string"},
                "processing_state": {"type": "string", "enum": ["pending", "processing", "completed", "skipped"]},
                "confidence_score": {"type": "string", "enum": ["HIGH", "MEDIUM", "LOW", "PENDING", "BYPASS", "ERROR"]},
                "level_override": {"type": "string"},
                "cleaning_level": {"type": "string"},
                "cleaning_applied": {"type": "boolean"},
                "corrections": {"type": "array", "items": {"$ref": "#/definitions/models.Correction"}},
                "context_detected": {"type": "string"},
                "processing_time_ms": {"type": "integer"},
                "model_used": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "completed_at": {"type": "string"}
            }
        },
        "queue.Metrics": {
            "type": "object",
            "properties": {
                "total_jobs": {"type": "integer"},
                "processed_jobs": {"type": "integer"},
                "failed_jobs": {"type": "integer"},
                "store_errors": {"type": "integer"},
                "queue_length": {"type": "integer"},
                "worker_count": {"type": "integer"},
                "active_workers": {"type": "integer"},
                "avg_processing_time_ms": {"type": "number"},
                "last_processed": {"type": "string"},
                "conversation_id": {"type": "string"},
                "conversation_pending": {"type": "integer"},
                "conversation_processed": {"type": "integer"},
                "conversation_failed": {"type": "integer"}
            }
        },
        "realtime.Event": {
            "type": "object",
            "properties": {
                "conversation_id": {"type": "string"},
                "turn": {"$ref": "#/definitions/models.Turn"},
                "published_at": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "X-API-Key", "in": "header"},
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Lumenclean API",
	Description:      "Context-aware cleaning of conversation turns.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
