package httpapi

import (
	"net/http"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/httpjson"
)

// handleOpenAPI renvoie la description OpenAPI de l'API v1.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	jsonOK := func(schemaRef string) map[string]any {
		return map[string]any{
			"description": "OK",
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": schemaRef},
				},
			},
		}
	}
	jsonBody := func(schemaRef string, required bool) map[string]any {
		return map[string]any{
			"required": required,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": schemaRef},
				},
			},
		}
	}

	jsonErr := map[string]any{
		"description": "Error",
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"$ref": "#/components/schemas/Error"},
			},
		},
	}
	staleErr := map[string]any{
		"description": "Air time changed since it was read",
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"$ref": "#/components/schemas/StaleSchedule"},
			},
		},
	}
	idParam := []any{map[string]any{
		"name": "id", "in": "path", "required": true,
		"schema": map[string]any{"type": "string"},
	}}
	secured := []any{map[string]any{"bearerAuth": []any{}}}

	dateTime := map[string]any{"type": "string", "format": "date-time"}
	nullableDateTime := map[string]any{"type": "string", "format": "date-time", "nullable": true}
	status := map[string]any{"type": "string", "enum": []any{"plan-to-watch", "watching", "completed", "on-hold", "dropped"}}

	spec := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "Donghua Tracker API",
			"version": "v1",
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": map[string]any{
				"OpenAPIDocument": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
				},
				"Error": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"error": map[string]any{"type": "string"},
						"code":  map[string]any{"type": "string", "enum": []any{"invalid_field", "no_air_date", "not_watching"}},
					},
					"required": []any{"error"},
				},
				"StaleSchedule": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"error":   map[string]any{"type": "string"},
						"code":    map[string]any{"type": "string", "enum": []any{"schedule_changed"}},
						"current": map[string]any{"$ref": "#/components/schemas/Donghua"},
					},
					"required": []any{"error", "code", "current"},
				},
				"Settings": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"catchUpPolicy":          map[string]any{"type": "string", "enum": []any{"batch", "single"}},
						"airDayTimezone":         map[string]any{"type": "string", "example": "Asia/Shanghai"},
						"upcomingHorizonMinutes": map[string]any{"type": "integer", "minimum": 1},
						"autoAdvance":            map[string]any{"type": "boolean"},
					},
					"additionalProperties": false,
				},
				"Donghua": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":                 map[string]any{"type": "string"},
						"user":               map[string]any{"type": "string"},
						"title":              map[string]any{"type": "string"},
						"chineseTitle":       map[string]any{"type": "string"},
						"studio":             map[string]any{"type": "string"},
						"genres":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"releaseYear":        map[string]any{"type": "integer"},
						"synopsis":           map[string]any{"type": "string"},
						"notes":              map[string]any{"type": "string"},
						"rating":             map[string]any{"type": "number", "minimum": 0, "maximum": 10},
						"status":             status,
						"totalEpisodes":      map[string]any{"type": "integer", "minimum": 0},
						"watchedEpisodes":    map[string]any{"type": "integer", "minimum": 0},
						"nextEpisodeAirDate": nullableDateTime,
						"episodeAirDay":      map[string]any{"type": "string"},
						"createdAt":          dateTime,
						"updatedAt":          dateTime,
					},
					"required": []any{"id", "user", "title", "status", "totalEpisodes", "watchedEpisodes", "nextEpisodeAirDate"},
				},
				"DonghuaList": map[string]any{
					"type":  "array",
					"items": map[string]any{"$ref": "#/components/schemas/Donghua"},
				},
				"DonghuaInput": map[string]any{
					"type":        "object",
					"description": "Patch partiel: seuls les champs présents sont appliqués. nextEpisodeAirDate=null efface le planning.",
					"properties": map[string]any{
						"title":              map[string]any{"type": "string"},
						"chineseTitle":       map[string]any{"type": "string"},
						"studio":             map[string]any{"type": "string"},
						"genres":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"releaseYear":        map[string]any{"type": "integer"},
						"synopsis":           map[string]any{"type": "string"},
						"notes":              map[string]any{"type": "string"},
						"rating":             map[string]any{"type": "number"},
						"status":             status,
						"totalEpisodes":      map[string]any{"type": "integer"},
						"watchedEpisodes":    map[string]any{"type": "integer"},
						"nextEpisodeAirDate": nullableDateTime,
					},
				},
				"AdvanceEvent": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"seriesId":         map[string]any{"type": "string"},
						"previousAirDate":  dateTime,
						"newAirDate":       dateTime,
						"previousTotal":    map[string]any{"type": "integer"},
						"newTotal":         map[string]any{"type": "integer"},
						"episodesAdvanced": map[string]any{"type": "integer"},
					},
				},
				"AdvanceRequest": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"expectedAirDate": dateTime,
					},
				},
				"AdvanceResponse": map[string]any{
					"allOf": []any{
						map[string]any{"$ref": "#/components/schemas/Donghua"},
						map[string]any{
							"type": "object",
							"properties": map[string]any{
								"episodeAired":     map[string]any{"type": "boolean"},
								"newEpisodeNumber": map[string]any{"type": "integer"},
								"message":          map[string]any{"type": "string"},
								"event":            map[string]any{"$ref": "#/components/schemas/AdvanceEvent"},
							},
						},
					},
				},
				"SweepResponse": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"message":        map[string]any{"type": "string"},
						"updatedDonghua": map[string]any{"$ref": "#/components/schemas/DonghuaList"},
						"events":         map[string]any{"type": "array", "items": map[string]any{"$ref": "#/components/schemas/AdvanceEvent"}},
						"count":          map[string]any{"type": "integer"},
					},
				},
			},
		},
		"paths": map[string]any{
			"/api/v1/health": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "OK"}}},
			},
			"/api/v1/version": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "OK"}}},
			},
			"/api/v1/openapi.json": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("#/components/schemas/OpenAPIDocument")}},
			},
			"/api/v1/events": map[string]any{
				"get": map[string]any{
					"security":  secured,
					"responses": map[string]any{"200": map[string]any{"description": "SSE"}, "401": jsonErr},
				},
			},
			"/api/v1/donghua": map[string]any{
				"get": map[string]any{
					"security": secured,
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/DonghuaList"),
						"401": jsonErr,
						"500": jsonErr,
					},
				},
				"post": map[string]any{
					"security":    secured,
					"requestBody": jsonBody("#/components/schemas/DonghuaInput", true),
					"responses": map[string]any{
						"201": jsonOK("#/components/schemas/Donghua"),
						"400": jsonErr,
						"401": jsonErr,
					},
				},
			},
			"/api/v1/donghua/check-expired-episodes": map[string]any{
				"post": map[string]any{
					"security": secured,
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/SweepResponse"),
						"401": jsonErr,
						"500": jsonErr,
					},
				},
			},
			"/api/v1/donghua/{id}": map[string]any{
				"parameters": idParam,
				"get": map[string]any{
					"security": secured,
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Donghua"),
						"404": jsonErr,
					},
				},
				"put": map[string]any{
					"security":    secured,
					"requestBody": jsonBody("#/components/schemas/DonghuaInput", true),
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Donghua"),
						"400": jsonErr,
						"404": jsonErr,
					},
				},
				"delete": map[string]any{
					"security": secured,
					"responses": map[string]any{
						"200": map[string]any{"description": "OK"},
						"404": jsonErr,
					},
				},
			},
			"/api/v1/donghua/{id}/update-next-episode": map[string]any{
				"parameters": idParam,
				"post": map[string]any{
					"security":    secured,
					"requestBody": jsonBody("#/components/schemas/AdvanceRequest", false),
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/AdvanceResponse"),
						"400": jsonErr,
						"404": jsonErr,
						"409": staleErr,
					},
				},
			},
			"/api/v1/settings": map[string]any{
				"get": map[string]any{
					"security": secured,
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Settings"),
						"500": jsonErr,
					},
				},
				"put": map[string]any{
					"security":    secured,
					"requestBody": jsonBody("#/components/schemas/Settings", true),
					"responses": map[string]any{
						"200": jsonOK("#/components/schemas/Settings"),
						"400": jsonErr,
						"500": jsonErr,
					},
				},
			},
		},
	}

	httpjson.Write(w, http.StatusOK, spec)
}
