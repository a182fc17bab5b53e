package catalog

// quizSchema is the structural contract for quiz definitions. The subset
// rule (correct answers must appear among the options) cannot be expressed
// here and is checked in Go after schema validation.
const quizSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "passing_score", "questions"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "passing_score": {"type": "integer", "minimum": 0, "maximum": 100},
    "questions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["text", "options", "correct_answers"],
        "properties": {
          "text": {"type": "string", "minLength": 1},
          "options": {
            "type": "array",
            "minItems": 2,
            "uniqueItems": true,
            "items": {"type": "string", "minLength": 1}
          },
          "correct_answers": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          },
          "difficulty": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`
