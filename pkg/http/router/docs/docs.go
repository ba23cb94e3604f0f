// Package docs registers the OpenAPI description of the tracking API with swag so http-swagger can
// serve it under /doc.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "BSD License",
            "url": "https://opensource.org/license/bsd-2-clause"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/trips/{trip_id}": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "Create or update a trip",
                "parameters": [
                    {"type": "string", "name": "trip_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/setTripRequest"}}
                ],
                "responses": {
                    "200": {"description": "trip id", "schema": {"$ref": "#/definitions/tripEnvelope"}},
                    "400": {"description": "invalid body", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            },
            "delete": {
                "tags": ["trips"],
                "summary": "End a trip and close its websocket sessions",
                "parameters": [
                    {"type": "string", "name": "trip_id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "ended"},
                    "404": {"description": "unknown trip", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/trips/{trip_id}/fixes": {
            "post": {
                "consumes": ["application/json"],
                "tags": ["trips"],
                "summary": "Ingest a raw gps fix",
                "parameters": [
                    {"type": "string", "name": "trip_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/fixRequest"}}
                ],
                "responses": {
                    "202": {"description": "accepted"},
                    "400": {"description": "invalid fix", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/trips/{trip_id}/stage": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "Move the trip to a stage",
                "parameters": [
                    {"type": "string", "name": "trip_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/stageRequest"}}
                ],
                "responses": {
                    "200": {"description": "trip snapshot", "schema": {"$ref": "#/definitions/snapshotEnvelope"}},
                    "400": {"description": "invalid stage", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "404": {"description": "unknown trip", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/trips/{trip_id}/routes/select": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "Select a route candidate",
                "parameters": [
                    {"type": "string", "name": "trip_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/selectRouteRequest"}}
                ],
                "responses": {
                    "200": {"description": "trip snapshot", "schema": {"$ref": "#/definitions/snapshotEnvelope"}},
                    "400": {"description": "index out of range", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "404": {"description": "unknown trip or no route yet", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/trips/{trip_id}/navigation": {
            "get": {
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "Latest position, snap, route options and navigation state",
                "parameters": [
                    {"type": "string", "name": "trip_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "trip snapshot", "schema": {"$ref": "#/definitions/snapshotEnvelope"}},
                    "404": {"description": "unknown trip", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/network": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["network"],
                "summary": "Set fleet wide network availability",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/networkRequest"}}
                ],
                "responses": {
                    "200": {"description": "availability", "schema": {"$ref": "#/definitions/networkEnvelope"}},
                    "400": {"description": "invalid body", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "point": {
            "type": "object",
            "required": ["lat", "lng"],
            "properties": {
                "lat": {"type": "number", "minimum": -90, "maximum": 90},
                "lng": {"type": "number", "minimum": -180, "maximum": 180}
            }
        },
        "setTripRequest": {
            "type": "object",
            "properties": {
                "pickup": {"$ref": "#/definitions/point"},
                "destination": {"$ref": "#/definitions/point"},
                "stage": {"$ref": "#/definitions/stage"}
            }
        },
        "fixRequest": {
            "type": "object",
            "required": ["lat", "lng"],
            "properties": {
                "lat": {"type": "number", "minimum": -90, "maximum": 90},
                "lng": {"type": "number", "minimum": -180, "maximum": 180},
                "observed_at_ms": {"type": "integer", "format": "int64"}
            }
        },
        "stage": {
            "type": "string",
            "enum": ["requested", "accepted", "pickup", "picked_up", "in_transit", "arrived", "dropoff", "completed", "cancelled"]
        },
        "stageRequest": {
            "type": "object",
            "required": ["stage"],
            "properties": {
                "stage": {"$ref": "#/definitions/stage"}
            }
        },
        "selectRouteRequest": {
            "type": "object",
            "required": ["index"],
            "properties": {
                "index": {"type": "integer", "minimum": 0}
            }
        },
        "networkRequest": {
            "type": "object",
            "required": ["available"],
            "properties": {
                "available": {"type": "boolean"}
            }
        },
        "tripEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object",
                    "properties": {"trip_id": {"type": "string"}}
                }
            }
        },
        "networkEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object",
                    "properties": {"available": {"type": "boolean"}}
                }
            }
        },
        "snapshotEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object",
                    "properties": {
                        "stage": {"$ref": "#/definitions/stage"},
                        "network_available": {"type": "boolean"},
                        "position": {"type": "object"},
                        "snap": {"type": "object"},
                        "route_options": {"type": "object"},
                        "navigation": {"type": "object"}
                    }
                }
            }
        },
        "errorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "message": {"type": "string"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Driver tracking API",
	Description:      "Live driver tracking: fix smoothing, route acquisition, snapping and navigation state per trip.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
