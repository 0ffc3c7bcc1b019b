package outbox

const activityCreatedSchema = `{
  "type": "object",
  "title": "ActivityCreated",
  "properties": {
    "activity_id": {"type": "integer"},
    "owner_id": {"type": "integer"},
    "what": {"type": "integer"},
    "name": {"type": "string"},
    "start": {"type": "string", "format": "date-time"},
    "gear_id": {"type": "integer"}
  },
  "required": ["activity_id", "owner_id", "what", "name", "start"],
  "additionalProperties": false
}`

const activityUpdatedSchema = `{
  "type": "object",
  "title": "ActivityUpdated",
  "properties": {
    "activity_id": {"type": "integer"},
    "owner_id": {"type": "integer"},
    "what": {"type": "integer"},
    "name": {"type": "string"},
    "start": {"type": "string", "format": "date-time"},
    "gear_id": {"type": "integer"}
  },
  "required": ["activity_id", "owner_id", "what", "name", "start"],
  "additionalProperties": false
}`

const activityDeletedSchema = `{
  "type": "object",
  "title": "ActivityDeleted",
  "properties": {
    "activity_id": {"type": "integer"},
    "owner_id": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "owner_id", "occurred_at"],
  "additionalProperties": false
}`
