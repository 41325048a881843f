package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	t.Run("replaces phone numbers with typed tokens", func(t *testing.T) {
		a := NewAnonymizer()
		out, added := a.Redact("call me at 555-123-4567")

		assert.Equal(t, "call me at [PHONE_1]", out)
		assert.Equal(t, 1, added)
		assert.NotContains(t, out, "555-123-4567")
	})

	t.Run("replaces emails", func(t *testing.T) {
		a := NewAnonymizer()
		out, _ := a.Redact("reach me at maria.lopez@example.org please")

		assert.Equal(t, "reach me at [EMAIL_1] please", out)
	})

	t.Run("replaces full names", func(t *testing.T) {
		a := NewAnonymizer()
		out, _ := a.Redact("my landlord is John Smith")

		assert.Contains(t, out, "[NAME_1]")
		assert.NotContains(t, out, "John Smith")
	})

	t.Run("same literal gets the same token across calls", func(t *testing.T) {
		a := NewAnonymizer()
		first, _ := a.Redact("555-123-4567")
		second, _ := a.Redact("again 555-123-4567")

		assert.Equal(t, "[PHONE_1]", first)
		assert.Equal(t, "again [PHONE_1]", second)
	})

	t.Run("distinct literals get distinct increasing tokens", func(t *testing.T) {
		a := NewAnonymizer()
		out, added := a.Redact("try 555-123-4567 or 555-987-6543")

		assert.Equal(t, "try [PHONE_1] or [PHONE_2]", out)
		assert.Equal(t, 2, added)
	})

	t.Run("counts are per kind", func(t *testing.T) {
		a := NewAnonymizer()
		out, _ := a.Redact("Jane Doe at jane@example.com or 555-123-4567")

		assert.Contains(t, out, "[NAME_1]")
		assert.Contains(t, out, "[EMAIL_1]")
		assert.Contains(t, out, "[PHONE_1]")
		assert.Equal(t, 3, a.Total())
	})

	t.Run("repeat items do not bump the added count", func(t *testing.T) {
		a := NewAnonymizer()
		_, added := a.Redact("555-123-4567")
		assert.Equal(t, 1, added)

		_, added = a.Redact("555-123-4567 again")
		assert.Equal(t, 0, added)
		assert.Equal(t, 1, a.Total())
	})

	t.Run("seeded counters continue numbering", func(t *testing.T) {
		a := NewAnonymizer()
		_, _ = a.Redact("555-123-4567 and jane@example.com")

		b := NewSeededAnonymizer(a.Counts())
		out, _ := b.Redact("now 555-987-6543 or bob@example.com")

		assert.Equal(t, "now [PHONE_2] or [EMAIL_2]", out)
	})

	t.Run("leaves clean text untouched", func(t *testing.T) {
		a := NewAnonymizer()
		out, added := a.Redact("my landlord won't fix the heater")

		assert.Equal(t, "my landlord won't fix the heater", out)
		assert.Equal(t, 0, added)
	})

	t.Run("handles empty input", func(t *testing.T) {
		a := NewAnonymizer()
		out, added := a.Redact("")
		assert.Equal(t, "", out)
		assert.Equal(t, 0, added)
	})
}
