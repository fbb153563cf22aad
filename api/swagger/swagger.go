package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Rollcall API",
        "description": "QR-based class attendance ledger",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and credential management"},
        {"name": "Ledger", "description": "Session tokens, scans and no-class days"},
        {"name": "Reports", "description": "Attendance queries and exports"},
        {"name": "Users", "description": "Admin user management"},
        {"name": "Courses", "description": "Admin course management"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate by username or roll number",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current user identity",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/password": {
            "put": {
                "tags": ["Authentication"],
                "summary": "Change password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangePasswordRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses/{code}/token": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Issue a session token",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Teacher not assigned"},
                    "409": {"description": "No-class day"}
                }
            },
            "get": {
                "tags": ["Ledger"],
                "summary": "Current live token",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Ledger"],
                "summary": "Cancel the live token",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/attendance/scan": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Record attendance from a scanned token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Malformed token"},
                    "403": {"description": "Not enrolled"},
                    "409": {"description": "Already marked today"},
                    "410": {"description": "Token expired"}
                }
            }
        },
        "/courses/{code}/no-class": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Flag a no-class day",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/NoClassRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"}
                }
            },
            "get": {
                "tags": ["Ledger"],
                "summary": "List no-class days",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Ledger"],
                "summary": "Remove a no-class flag",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "query", "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Flag not found"}
                }
            }
        },
        "/attendance/records": {
            "get": {
                "tags": ["Reports"],
                "summary": "List attendance records",
                "parameters": [
                    {"name": "student", "in": "query", "type": "string"},
                    {"name": "course", "in": "query", "type": "string"},
                    {"name": "month", "in": "query", "type": "integer"},
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/summary": {
            "get": {
                "tags": ["Reports"],
                "summary": "Attendance summary for a student/course pair",
                "parameters": [
                    {"name": "student", "in": "query", "type": "string"},
                    {"name": "course", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a monthly attendance export",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Poll an export job",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/download": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished export",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Invalid or expired token"}
                }
            }
        },
        "/users": {
            "get": {
                "tags": ["Users"],
                "summary": "List users",
                "parameters": [
                    {"name": "role", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Users"],
                "summary": "Create user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateUserRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{username}": {
            "get": {
                "tags": ["Users"],
                "summary": "Get user",
                "parameters": [
                    {"name": "username", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Users"],
                "summary": "Delete user",
                "parameters": [
                    {"name": "username", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/users/{username}/courses": {
            "put": {
                "tags": ["Users"],
                "summary": "Replace course links",
                "parameters": [
                    {"name": "username", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignCoursesRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses": {
            "get": {
                "tags": ["Courses"],
                "summary": "List courses",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Courses"],
                "summary": "Create course",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCourseRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{code}": {
            "get": {
                "tags": ["Courses"],
                "summary": "Get course",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Courses"],
                "summary": "Delete course",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        }
    },
    "definitions": {
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"type": "object"},
                "pagination": {"type": "object"},
                "meta": {"type": "object"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "required": ["login", "password"],
            "properties": {
                "login": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "ChangePasswordRequest": {
            "type": "object",
            "required": ["old_password", "new_password"],
            "properties": {
                "old_password": {"type": "string"},
                "new_password": {"type": "string"}
            }
        },
        "ScanRequest": {
            "type": "object",
            "required": ["token"],
            "properties": {
                "token": {"type": "string"}
            }
        },
        "NoClassRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string", "format": "date"}
            }
        },
        "CreateExportRequest": {
            "type": "object",
            "required": ["course_code", "month", "year", "format"],
            "properties": {
                "course_code": {"type": "string"},
                "month": {"type": "integer"},
                "year": {"type": "integer"},
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            }
        },
        "CreateUserRequest": {
            "type": "object",
            "required": ["username", "password", "full_name", "role"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"},
                "full_name": {"type": "string"},
                "role": {"type": "string", "enum": ["ADMIN", "TEACHER", "STUDENT"]},
                "roll_no": {"type": "string"},
                "courses": {"type": "array", "items": {"type": "string"}}
            }
        },
        "AssignCoursesRequest": {
            "type": "object",
            "required": ["courses"],
            "properties": {
                "courses": {"type": "array", "items": {"type": "string"}}
            }
        },
        "CreateCourseRequest": {
            "type": "object",
            "required": ["code", "name"],
            "properties": {
                "code": {"type": "string"},
                "name": {"type": "string"}
            }
        }
    }
}`

type swaggerDoc struct{}

func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
