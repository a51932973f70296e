// Package docs registers the OpenAPI document served by gin-swagger.
// Regenerate with `swag init -g cmd/server/main.go` after changing handler
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
        "/admin/newsletters": {
            "get": {
                "description": "Newest first. Supports a weak ETag via If-None-Match and may return 304.",
                "produces": ["application/json"],
                "tags": ["Newsletters"],
                "summary": "List newsletter issues (paginated)",
                "operationId": "listNewsletters",
                "parameters": [
                    {"type": "string", "description": "Authenticated principal", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.ListNewslettersResponse"},
                        "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}
                    },
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Records the issue and queues one delivery per confirmed subscriber, then redirects\nto the issue status page. Repeating the request with the same idempotency key\nreturns the original response byte-for-byte.",
                "consumes": ["application/json", "application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["Newsletters"],
                "summary": "Publish a newsletter issue",
                "operationId": "publishNewsletter",
                "parameters": [
                    {"type": "string", "example": "editor-1", "description": "Authenticated principal", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Alternative to the idempotency_key field (max 50 bytes)", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Issue payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PublishNewsletterRequest"}}
                ],
                "responses": {
                    "303": {
                        "description": "Accepted; Location points to the status page",
                        "schema": {"$ref": "#/definitions/services.AcceptedBody"},
                        "headers": {"Location": {"type": "string", "description": "Issue status URL"}}
                    },
                    "400": {"description": "Invalid key or issue", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Missing principal", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Transaction failed; retry with the same key", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Same key still in flight", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/newsletters/{id}": {
            "get": {
                "description": "Returns the issue and how many deliveries are still queued.",
                "produces": ["application/json"],
                "tags": ["Newsletters"],
                "summary": "Newsletter issue status",
                "operationId": "getNewsletter",
                "parameters": [
                    {"type": "string", "description": "Authenticated principal", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "format": "uuid", "description": "Issue ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.IssueStatusResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Issue not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/subscriptions": {
            "post": {
                "description": "Stores a pending subscription and emails a confirmation link.",
                "consumes": ["application/x-www-form-urlencoded", "application/json"],
                "produces": ["application/json"],
                "tags": ["Subscriptions"],
                "summary": "Subscribe to the newsletter",
                "operationId": "subscribe",
                "parameters": [
                    {"description": "Subscriber", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SubscribeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SubscribeResponse"}},
                    "400": {"description": "Invalid name or email", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Already subscribed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Confirmation email failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/subscriptions/confirm": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Subscriptions"],
                "summary": "Confirm a subscription",
                "operationId": "confirmSubscription",
                "parameters": [
                    {"type": "string", "description": "Token from the confirmation email", "name": "subscription_token", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ConfirmResponse"}},
                    "400": {"description": "Missing token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unknown token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.NewsletterIssue": {
            "type": "object",
            "properties": {
                "html_content": {"type": "string"},
                "id": {"type": "string"},
                "published_at": {"type": "string"},
                "text_content": {"type": "string"},
                "title": {"type": "string"}
            }
        },
        "handlers.ConfirmResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "confirmed"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "resource not found"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.IssueStatusResponse": {
            "type": "object",
            "properties": {
                "delivery_status": {"type": "string", "example": "in_progress"},
                "issue": {"$ref": "#/definitions/domain.NewsletterIssue"},
                "pending_deliveries": {"type": "integer"}
            }
        },
        "handlers.ListNewslettersResponse": {
            "type": "object",
            "properties": {
                "issues": {"type": "array", "items": {"$ref": "#/definitions/domain.NewsletterIssue"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "handlers.PublishNewsletterRequest": {
            "type": "object",
            "properties": {
                "html_content": {"type": "string", "example": "<p>HTML body</p>"},
                "idempotency_key": {"type": "string", "example": "3f1c9a52-publish-oct"},
                "text_content": {"type": "string", "example": "Plain text body"},
                "title": {"type": "string", "example": "October issue"}
            }
        },
        "handlers.SubscribeRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string", "example": "ursula@example.com"},
                "name": {"type": "string", "example": "Ursula Le Guin"}
            }
        },
        "handlers.SubscribeResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "b0c5d3b4-3a35-4a0c-9d9e-0d7d4b6f2f11"},
                "status": {"type": "string", "example": "pending_confirmation"}
            }
        },
        "services.AcceptedBody": {
            "type": "object",
            "properties": {
                "issue_id": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "string", "example": "accepted"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Newsletter API",
	Description:      "Subscriptions, confirmation, and idempotent newsletter publishing.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
