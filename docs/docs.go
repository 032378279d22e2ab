// Package docs registers the OpenAPI description of the admin API with
// swag so gin-swagger can serve it. Regenerate with
//
//	swag init -g internal/http/router.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "AdminToken": {"type": "apiKey", "name": "Authorization", "in": "header", "description": "Bearer <ADMIN_TOKEN>"}
    },
    "paths": {
        "/communities/{community}/flows": {
            "get": {
                "security": [{"AdminToken": []}],
                "produces": ["application/json"],
                "tags": ["Flows"],
                "summary": "List flows",
                "operationId": "listFlows",
                "parameters": [{"$ref": "#/parameters/community"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListFlowsResponse"}},
                    "400": {"$ref": "#/responses/error"},
                    "401": {"$ref": "#/responses/error"}
                }
            },
            "post": {
                "security": [{"AdminToken": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Flows"],
                "summary": "Create a flow",
                "operationId": "createFlow",
                "parameters": [
                    {"$ref": "#/parameters/community"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.FlowResource"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.FlowResource"}},
                    "400": {"$ref": "#/responses/error"},
                    "409": {"$ref": "#/responses/error"}
                }
            }
        },
        "/communities/{community}/flows/{name}": {
            "get": {
                "security": [{"AdminToken": []}],
                "produces": ["application/json"],
                "tags": ["Flows"],
                "summary": "Get a flow",
                "operationId": "getFlow",
                "parameters": [{"$ref": "#/parameters/community"}, {"$ref": "#/parameters/name"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.FlowResource"}},
                    "404": {"$ref": "#/responses/error"}
                }
            },
            "patch": {
                "security": [{"AdminToken": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Flows"],
                "summary": "Edit a flow",
                "operationId": "updateFlow",
                "parameters": [
                    {"$ref": "#/parameters/community"},
                    {"$ref": "#/parameters/name"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/services.FlowPatch"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.FlowResource"}},
                    "400": {"$ref": "#/responses/error"},
                    "404": {"$ref": "#/responses/error"},
                    "409": {"$ref": "#/responses/error"}
                }
            },
            "delete": {
                "security": [{"AdminToken": []}],
                "tags": ["Flows"],
                "summary": "Delete a flow",
                "operationId": "deleteFlow",
                "parameters": [{"$ref": "#/parameters/community"}, {"$ref": "#/parameters/name"}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"$ref": "#/responses/error"}
                }
            }
        },
        "/communities/{community}/onboarding": {
            "get": {
                "security": [{"AdminToken": []}],
                "produces": ["application/json"],
                "tags": ["Onboarding"],
                "summary": "List members awaiting confirmation",
                "operationId": "listPending",
                "parameters": [
                    {"$ref": "#/parameters/community"},
                    {"name": "page", "in": "query", "type": "integer", "minimum": 1, "default": 1},
                    {"name": "page_size", "in": "query", "type": "integer", "minimum": 1, "maximum": 100, "default": 20}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListPendingResponse"}},
                    "400": {"$ref": "#/responses/error"},
                    "500": {"$ref": "#/responses/error"}
                }
            }
        },
        "/communities/{community}/onboarding/{member}/release": {
            "post": {
                "security": [{"AdminToken": []}],
                "tags": ["Onboarding"],
                "summary": "Release a member from onboarding",
                "operationId": "releaseMember",
                "parameters": [
                    {"$ref": "#/parameters/community"},
                    {"name": "member", "in": "path", "required": true, "type": "string"},
                    {"name": "flow", "in": "query", "type": "string"},
                    {"name": "restore", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"$ref": "#/responses/error"},
                    "404": {"$ref": "#/responses/error"},
                    "502": {"$ref": "#/responses/error"}
                }
            }
        }
    },
    "parameters": {
        "community": {"name": "community", "in": "path", "required": true, "type": "string", "description": "Community (guild) id"},
        "name": {"name": "name", "in": "path", "required": true, "type": "string", "description": "Flow name"}
    },
    "responses": {
        "error": {"description": "Error envelope", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "flow_not_found"},
                "message": {"type": "string", "example": "flow not found"}
            }
        },
        "handlers.FlowResource": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "welcome"},
                "roleId": {"type": "string", "example": "112233445566778899"},
                "channelId": {"type": "string", "example": "998877665544332211"},
                "message": {"type": "string", "example": "Welcome {user}! Read the rules to unlock {role}."}
            }
        },
        "services.FlowPatch": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "roleId": {"type": "string"},
                "channelId": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.ListFlowsResponse": {
            "type": "object",
            "properties": {
                "flows": {"type": "array", "items": {"$ref": "#/definitions/handlers.FlowResource"}}
            }
        },
        "services.PendingMember": {
            "type": "object",
            "properties": {
                "member_id": {"type": "string"},
                "flows": {"type": "array", "items": {"type": "string"}},
                "queued": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.ListPendingResponse": {
            "type": "object",
            "properties": {
                "members": {"type": "array", "items": {"$ref": "#/definitions/services.PendingMember"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        }
    }
}`

// SwaggerInfo holds the exported spec metadata. The router sets BasePath
// from configuration before serving.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "rolegate admin API",
	Description:      "Flow administration and onboarding inspection for the rolegate bot.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
