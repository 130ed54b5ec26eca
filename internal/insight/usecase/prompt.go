package usecase

import (
	"fmt"
	"strings"
	"time"

	contactdomain "crm-backend/internal/contact/domain"
	emaildomain "crm-backend/internal/email/domain"
	"crm-backend/pkg/mailparse"
)

const summaryInstructions = `You summarize the email history between a film producer (the CRM owner) and one contact.
Reply with a single JSON object and nothing else:
{"summary": "<2-3 sentences on where the relationship stands>",
 "key_points": ["<short fact>", "..."],
 "next_step": "<the most useful next action for the owner, or empty>"}`

const classificationInstructions = `You classify where a contact stands in a film producer's outreach pipeline, based on their email history.
Categories:
- "to-contact": no real conversation yet, or only the owner has written
- "interested": the contact engaged positively or asked for material
- "not-interested": the contact declined or asked not to be contacted
- "closed": a deal, meeting or collaboration was concluded
Reply with a single JSON object and nothing else:
{"category": "<one of the categories>", "confidence": <number between 0 and 1>, "reason": "<one sentence>"}`

// buildPrompt renders instructions, contact details and the email window,
// oldest message first.
func buildPrompt(instructions string, contact *contactdomain.Contact, emails []emaildomain.Email, bodyLimit int) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nCONTACT\n")
	fmt.Fprintf(&b, "Name: %s\n", contact.Name)
	if contact.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", contact.Company)
	}
	if contact.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", contact.Role)
	}
	fmt.Fprintf(&b, "Current status: %s\n", contact.Status)

	b.WriteString("\nEMAILS (oldest first)\n")
	for i := len(emails) - 1; i >= 0; i-- {
		e := emails[i]
		who := "Contact"
		if e.Direction == emaildomain.DirectionOutbound {
			who = "Owner"
		}
		fmt.Fprintf(&b, "---\n[%s] %s, %s\n", e.Timestamp().UTC().Format(time.RFC3339), who, e.FromAddress)
		if e.Subject != "" {
			fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
		}
		body := e.TextBody
		if strings.TrimSpace(body) == "" && e.HTMLBody != "" {
			body = mailparse.HTMLToText(e.HTMLBody)
		}
		b.WriteString(mailparse.Clip(strings.TrimSpace(body), bodyLimit))
		b.WriteString("\n")
	}
	return b.String()
}
