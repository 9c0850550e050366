package mcpserver

// RecordFormatContract describes how records are stored and how tool
// arguments encode attribute values.
const RecordFormatContract = `# Raido Record Format

Every record is one file in the store directory, named

    <Entity>_<ref>.rec

where ` + "`" + `Entity` + "`" + ` is a model entity name (letters and digits, starting with a
letter) and ` + "`" + `ref` + "`" + ` is a UUID assigned by the store. The file body is a
MessagePack map from attribute name to value. Files without the store
extension are ignored.

## Attribute values in tool arguments and results

| model type | JSON form |
|---|---|
| string | string |
| date | RFC 3339 string, e.g. "2025-01-15T09:30:00Z" |
| integer16 / integer32 / integer64 | integral number within the type's range |
| double | number |
| boolean | true / false |
| binary | standard base64 string |

Values are never coerced between kinds: "12" is not an integer.
Required attributes without a default must be present on every insert and
update. Unknown attributes are rejected. Call ` + "`" + `describe_model` + "`" + ` to list
entities and their attributes.

## save_records

The ` + "`" + `changes` + "`" + ` argument is a JSON object:

` + "```" + `json
{
  "inserted": [{"entity": "Note", "values": {"content": "hello"}}],
  "updated":  [{"entity": "Note", "ref": "<uuid>", "values": {"content": "edited"}}],
  "deleted":  [{"entity": "Note", "ref": "<uuid>"}]
}
` + "```" + `

An update replaces all values of the record. Every operation is attempted;
the result lists the ids written or removed and the operations that failed.
Deleting a record that does not exist succeeds.
`
