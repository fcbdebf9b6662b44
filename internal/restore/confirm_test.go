package restore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

func testPrompt() Prompt {
	return Prompt{
		Host:     "web01",
		Archive:  "/backups/web01/web01_role_agg_backup_20240301-020000.tar.gz",
		Roles:    []PromptRole{{Role: "firewall", Name: "Firewall"}, {Role: "mysql", Name: "MySQL/MariaDB"}},
		Operator: "alice",
	}
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"exact", "web01\n", false},
		{"surrounding whitespace", "  web01 \r\n", false},
		{"no trailing newline", "web01", false},
		{"case differs", "WEB01\n", true},
		{"prefix", "web0\n", true},
		{"empty line", "\n", true},
		{"eof", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := NewPromptConfirmer(strings.NewReader(tt.input), &out).Confirm(context.Background(), testPrompt())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.KindConfirmationMismatch, domain.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, out.String(), "Type the hostname (web01)")
		})
	}
}

func TestPromptConfirmer_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewPromptConfirmer(pr, io.Discard).Confirm(ctx, testPrompt())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPromptConfirmer_NotInteractive(t *testing.T) {
	c := NewPromptConfirmer(strings.NewReader("web01\n"), io.Discard)
	c.tty = func() bool { return false }
	assert.ErrorIs(t, c.Confirm(context.Background(), testPrompt()), ErrNotInteractive)
}

func TestFlagConfirmer(t *testing.T) {
	require.NoError(t, NewFlagConfirmer("web01", nil).Confirm(context.Background(), testPrompt()))

	err := NewFlagConfirmer("web02", nil).Confirm(context.Background(), testPrompt())
	assert.Equal(t, domain.KindConfirmationMismatch, domain.KindOf(err))

	p := testPrompt()
	p.Operator = ""
	err = NewFlagConfirmer("web01", nil).Confirm(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--operator")
}

func TestWriteBanner(t *testing.T) {
	var buf bytes.Buffer
	WriteBanner(&buf, testPrompt())
	out := buf.String()
	assert.Contains(t, out, "DESTRUCTIVE RESTORE")
	assert.Contains(t, out, "Host:    web01")
	assert.Contains(t, out, "- Firewall (firewall)")
	assert.Contains(t, out, "- MySQL/MariaDB (mysql)")
	assert.NotContains(t, out, "FULL ARCHIVE CONTENT")

	buf.Reset()
	p := testPrompt()
	p.Roles = nil
	p.ExtractAll = true
	WriteBanner(&buf, p)
	assert.Contains(t, buf.String(), "FULL ARCHIVE CONTENT")
	assert.Equal(t, []string{"*"}, p.RoleTags())
}
