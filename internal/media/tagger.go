package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/JHill6253/snapchat-export/internal/catalog"
)

// exifDateLayout is the timestamp format exiftool expects.
const exifDateLayout = "2006:01:02 15:04:05"

// DetectExiftool probes once for an exiftool binary. An empty result
// means tag embedding is unavailable for the run.
func DetectExiftool() string {
	path, err := exec.LookPath("exiftool")
	if err != nil {
		return ""
	}
	return path
}

// Tagger embeds capture metadata into output files through a single
// exiftool process kept warm for the whole run (-stay_open mode).
// Embed calls are serialized; the process is torn down by Close.
type Tagger struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Scanner
	errs  *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

// NewTagger starts the warm exiftool process.
func NewTagger(path string) (*Tagger, error) {
	cmd := exec.Command(path, "-stay_open", "True", "-@", "-")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("tagger: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("tagger: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("tagger: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("tagger: start exiftool: %w", err)
	}

	return &Tagger{
		cmd:   cmd,
		stdin: stdin,
		out:   bufio.NewScanner(stdout),
		errs:  bufio.NewScanner(stderr),
	}, nil
}

// Embed writes the item's capture date and, when present, its GPS
// coordinates into the file at path.
func (t *Tagger) Embed(ctx context.Context, path string, item catalog.Item) error {
	args := []string{
		"-overwrite_original",
		"-DateTimeOriginal=" + item.CapturedAt.Format(exifDateLayout),
		"-CreateDate=" + item.CapturedAt.Format(exifDateLayout),
	}
	if item.Location != nil {
		args = append(args,
			fmt.Sprintf("-GPSLatitude=%f", item.Location.Latitude),
			fmt.Sprintf("-GPSLongitude=%f", item.Location.Longitude),
			fmt.Sprintf("-GPSLatitudeRef=%f", item.Location.Latitude),
			fmt.Sprintf("-GPSLongitudeRef=%f", item.Location.Longitude),
		)
	}
	args = append(args, path)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("tagger: process already closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, a := range args {
		if _, err := io.WriteString(t.stdin, a+"\n"); err != nil {
			return fmt.Errorf("tagger: write command: %w", err)
		}
	}
	// -echo4 marks the end of this command's stderr output, so the
	// diagnostics exiftool writes there can be read without blocking.
	if _, err := io.WriteString(t.stdin, "-echo4\n{ready}\n-execute\n"); err != nil {
		return fmt.Errorf("tagger: write command: %w", err)
	}

	// Read both streams until exiftool acknowledges the command.
	var output []string
	for t.out.Scan() {
		line := t.out.Text()
		if strings.HasPrefix(line, "{ready") {
			break
		}
		output = append(output, line)
	}
	if err := t.out.Err(); err != nil {
		return fmt.Errorf("tagger: read response: %w", err)
	}

	for t.errs.Scan() {
		line := t.errs.Text()
		if strings.HasPrefix(line, "{ready") {
			break
		}
		if strings.TrimSpace(line) != "" {
			output = append(output, line)
		}
	}
	if err := t.errs.Err(); err != nil {
		return fmt.Errorf("tagger: read diagnostics: %w", err)
	}

	for _, line := range output {
		if strings.Contains(strings.ToLower(line), "error") {
			return fmt.Errorf("tagger: %s: %s", path, strings.TrimSpace(line))
		}
	}
	return nil
}

// Close shuts the warm process down. Safe to call once regardless of how
// the run ended.
func (t *Tagger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if _, err := io.WriteString(t.stdin, "-stay_open\nFalse\n"); err != nil {
		_ = t.cmd.Process.Kill()
		return t.cmd.Wait()
	}
	_ = t.stdin.Close()
	return t.cmd.Wait()
}
