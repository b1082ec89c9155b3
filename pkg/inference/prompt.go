package inference

import "fmt"

const standardSystemPrompt = `You analyze emergency call transcripts. Extract the incident details as a single JSON object with these fields:

- incident_type: one of accident_vehicular, accident_pedestrian, fire_building, fire_forest, fire_vehicle, medical_emergency, drowning, assault_violence, theft_robbery, natural_disaster, hazmat, lost_person, structural_collapse, other, unknown
- urgency: one of low, medium, high, critical, unknown
- location: the most specific place mentioned, or "unknown"
- entities: object of additional named entities (caller name, vehicle, etc.)
- victim_count: integer if stated, omit otherwise
- description: one-sentence summary

Respond with the JSON object only.`

const strictSystemPrompt = `You analyze emergency call transcripts. Your previous output did not conform to the required schema. This time, respond with ONLY a JSON object and nothing else. Every field value MUST come from the allowed sets:

incident_type MUST be exactly one of: accident_vehicular, accident_pedestrian, fire_building, fire_forest, fire_vehicle, medical_emergency, drowning, assault_violence, theft_robbery, natural_disaster, hazmat, lost_person, structural_collapse, other, unknown. If unsure, use "unknown". Never invent a new category.

urgency MUST be exactly one of: low, medium, high, critical, unknown.

location MUST be a non-empty string; use "unknown" if no place is mentioned.

victim_count, if present, MUST be a non-negative integer.

No markdown, no prose, no explanation. JSON only.`

func userPrompt(transcript, retrievedContext string) string {
	if retrievedContext == "" {
		return fmt.Sprintf("Transcript:\n%s", transcript)
	}
	return fmt.Sprintf("Transcript:\n%s\n\nBackground context from the dispatch knowledge base:\n%s", transcript, retrievedContext)
}
