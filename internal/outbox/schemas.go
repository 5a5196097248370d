package outbox

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"challenge.progress_updated": {
		Schema: challengeProgressUpdatedSchema,
	},
	"trophy.awarded": {
		Schema: trophyAwardedSchema,
	},
}

const challengeProgressUpdatedSchema = `{
  "type": "object",
  "title": "ChallengeProgressUpdated",
  "properties": {
    "challenge_id": {"type": "string"},
    "user_id": {"type": "string"},
    "scope": {"type": "string", "enum": ["group", "competitive", "cumulative"]},
    "progress": {"type": "number", "minimum": 0},
    "group_total": {"type": "number", "minimum": 0},
    "goal": {"type": "number"},
    "updated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["challenge_id", "user_id", "scope", "progress", "group_total", "goal", "updated_at"],
  "additionalProperties": false
}`

const trophyAwardedSchema = `{
  "type": "object",
  "title": "TrophyAwarded",
  "properties": {
    "trophy_id": {"type": "string"},
    "user_id": {"type": "string"},
    "challenge_id": {"type": "string"},
    "title": {"type": "string"},
    "image_url": {"type": "string"},
    "awarded_at": {"type": "string", "format": "date-time"},
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
  },
  "required": ["trophy_id", "user_id", "challenge_id", "title", "image_url", "awarded_at"],
  "additionalProperties": false
}`
