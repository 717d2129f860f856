package api

// Amounts may be sent as JSON numbers or as decimal strings.
const clientSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["client_name"],
  "properties": {
    "client_name": {"type": "string", "minLength": 1, "maxLength": 255},
    "shop_name": {"type": "string", "maxLength": 255},
    "mobile_number": {"type": "string", "maxLength": 20},
    "city": {"type": "string", "maxLength": 255},
    "opening_balance": {"anyOf": [
      {"type": "number"},
      {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}
    ]}
  }
}`

const createTransactionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["client_id", "date", "account"],
  "properties": {
    "client_id": {"type": "integer", "minimum": 1},
    "date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}"},
    "account": {"type": "string", "minLength": 1, "maxLength": 50},
    "particulars": {"type": "string"},
    "dr": {"$ref": "#/$defs/amount"},
    "cr": {"$ref": "#/$defs/amount"}
  },
  "$defs": {
    "amount": {"anyOf": [
      {"type": "number", "minimum": 0},
      {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}
    ]}
  }
}`

// The owner of an entry never changes, so client_id is optional on update
// and rejected by the service when it differs.
const updateTransactionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["date", "account"],
  "properties": {
    "client_id": {"type": "integer", "minimum": 1},
    "date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}"},
    "account": {"type": "string", "minLength": 1, "maxLength": 50},
    "particulars": {"type": "string"},
    "dr": {"$ref": "#/$defs/amount"},
    "cr": {"$ref": "#/$defs/amount"}
  },
  "$defs": {
    "amount": {"anyOf": [
      {"type": "number", "minimum": 0},
      {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}
    ]}
  }
}`

const completeNetSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["dr", "particulars"],
  "properties": {
    "dr": {"anyOf": [
      {"type": "number", "exclusiveMinimum": 0},
      {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}
    ]},
    "particulars": {"type": "string", "minLength": 1}
  }
}`
