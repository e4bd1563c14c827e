// Package docs holds the generated OpenAPI document served under
// /swagger/. Regenerate with swag init after changing handler
// annotations.
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
        "/add_tg_bot": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Register a chat agent for an on-chain subject",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "409": {"description": "Conflict", "schema": {"type": "object"}}
                }
            }
        },
        "/agent/detail/{agent_name}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Fetch one agent, failing when it does not exist",
                "parameters": [
                    {"type": "string", "name": "agent_name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"type": "object"}}
                }
            }
        },
        "/agents": {
            "get": {
                "produces": ["application/json"],
                "summary": "List registered agents, newest first",
                "parameters": [
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/agents/{agent_name}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Look up an agent by name",
                "parameters": [
                    {"type": "string", "name": "agent_name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/challenge": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Issue a single-use signing challenge",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"type": "object"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "summary": "Liveness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/users/{user_address}/shares/{chain_type}": {
            "get": {
                "produces": ["application/json"],
                "summary": "List a user's ledger share holdings on one chain",
                "parameters": [
                    {"type": "string", "name": "user_address", "in": "path", "required": true},
                    {"type": "string", "name": "chain_type", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/verify-signature": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Verify a signed challenge and authorize chat access",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "401": {"description": "Unauthorized", "schema": {"type": "object"}},
                    "403": {"description": "Forbidden", "schema": {"type": "object"}}
                }
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Alice AI Server API",
	Description:      "Share-gated chat authorization: signing challenges, signature verification against on-chain share balances, and the Telegram agent registry.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
