package present

import (
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
)

// Export renders a record as the plain-text document served by the saved
// record export endpoint: a header, the primary fields, then everything else
// under an additional-details section.
func Export(rec normalize.CanonicalRecord, generatedAt time.Time) string {
	view := Record(rec)

	var b strings.Builder
	b.WriteString("CRM Record Export\n")
	fmt.Fprintf(&b, "Generated: %s\n", generatedAt.Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Record Type: %s\n", rec.EntityType)
	fmt.Fprintf(&b, "Record Name: %s\n\n", rec.DisplayName)

	b.WriteString("Primary Information:\n")
	b.WriteString(strings.Repeat("-", 20) + "\n")
	for _, fv := range view.Primary {
		fmt.Fprintf(&b, "%s: %s\n", fv.Label, fv.Value)
	}

	if len(view.Full) > 0 {
		b.WriteString("\nAdditional Details:\n")
		b.WriteString(strings.Repeat("-", 20) + "\n")
		for _, fv := range view.Full {
			fmt.Fprintf(&b, "%s: %s\n", fv.Label, fv.Value)
		}
	}

	return b.String()
}
