package restore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// ErrNotInteractive is returned when a prompt is needed but stdin is not a terminal.
var ErrNotInteractive = errors.New("confirmation requires an interactive terminal; use --confirm with --operator")

// PromptRole is one role listed in the confirmation banner.
type PromptRole struct {
	Role domain.Role
	Name string
}

// Prompt describes the restore awaiting confirmation.
type Prompt struct {
	Host       string
	Archive    string
	Roles      []PromptRole
	ExtractAll bool
	Operator   string
}

// RoleTags returns the selected role tags, "*" for extract-all.
func (p Prompt) RoleTags() []string {
	tags := make([]string, 0, len(p.Roles)+1)
	for _, r := range p.Roles {
		tags = append(tags, string(r.Role))
	}
	if p.ExtractAll {
		tags = append(tags, "*")
	}
	return tags
}

// Confirmer gates the destructive part of a restore.
type Confirmer interface {
	// Confirm returns nil only when the operator confirmed the exact hostname.
	Confirm(ctx context.Context, p Prompt) error
}

// PromptConfirmer asks the operator to type the hostname.
type PromptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
	tty func() bool
}

// NewPromptConfirmer creates a PromptConfirmer reading from in and writing the
// banner to out. When in is a file it must be a terminal.
func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	c := &PromptConfirmer{
		in:  bufio.NewReader(in),
		out: out,
		tty: func() bool { return true },
	}
	if f, ok := in.(*os.File); ok {
		c.tty = func() bool { return term.IsTerminal(int(f.Fd())) }
	}
	return c
}

// Confirm prints the banner and reads one line.
func (c *PromptConfirmer) Confirm(ctx context.Context, p Prompt) error {
	if !c.tty() {
		return ErrNotInteractive
	}
	WriteBanner(c.out, p)
	fmt.Fprintf(c.out, "Type the hostname (%s) to continue: ", p.Host)

	line, err := readLine(ctx, c.in)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return checkToken(p.Host, line)
}

// FlagConfirmer confirms from a command-line token for unattended restores.
type FlagConfirmer struct {
	token  string
	logger *slog.Logger
}

// NewFlagConfirmer creates a FlagConfirmer.
func NewFlagConfirmer(token string, logger *slog.Logger) *FlagConfirmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlagConfirmer{token: token, logger: logger}
}

// Confirm checks the token against the host and requires an operator identity.
func (c *FlagConfirmer) Confirm(_ context.Context, p Prompt) error {
	if strings.TrimSpace(p.Operator) == "" {
		return errors.New("non-interactive restore requires --operator")
	}
	if err := checkToken(p.Host, c.token); err != nil {
		return err
	}
	c.logger.Warn("restore confirmed non-interactively",
		"host", p.Host,
		"operator", p.Operator,
		"archive", p.Archive,
		"roles", p.RoleTags(),
	)
	return nil
}

// WriteBanner prints the destructive-action warning.
func WriteBanner(w io.Writer, p Prompt) {
	rule := strings.Repeat("=", 64)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "  WARNING: DESTRUCTIVE RESTORE")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Host:    %s\n", p.Host)
	fmt.Fprintf(w, "  Archive: %s\n", p.Archive)
	if len(p.Roles) > 0 {
		fmt.Fprintln(w, "  Roles:")
		for _, r := range p.Roles {
			fmt.Fprintf(w, "    - %s (%s)\n", r.Name, r.Role)
		}
	}
	fmt.Fprintln(w, "  Files at their original paths on the host will be overwritten.")
	if p.ExtractAll {
		fmt.Fprintln(w, rule)
		fmt.Fprintln(w, "  FULL ARCHIVE CONTENT WILL BE EXTRACTED")
		fmt.Fprintln(w, "  Every file in the archive is written back, including system files.")
		fmt.Fprintln(w, "  A full restore can leave the host unbootable.")
	}
	fmt.Fprintln(w, rule)
}

func checkToken(host, got string) error {
	got = strings.TrimSpace(got)
	if got == "" || got != host {
		return &domain.ConfirmationMismatch{Host: host, Got: got}
	}
	return nil
}

// readLine reads one line, returning early when ctx is done. The reading
// goroutine is left blocked on the reader in that case.
func readLine(ctx context.Context, r *bufio.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}
