package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Built-in processing step names.
const (
	StepSniff       = "sniff"
	StepFingerprint = "fingerprint"
	StepPageCount   = "pagecount"
)

// Asset is the spooled upload handed to processing steps. Steps record
// their findings in Metadata, which ends up on the produced item.
type Asset struct {
	Kind     Kind
	FileName string
	Path     string
	Size     int64
	Metadata map[string]string
}

// StepFunc is one processing step. It must return promptly once ctx is done.
type StepFunc func(ctx context.Context, a *Asset) error

// Step is a resolved, named processing step.
type Step struct {
	Name string
	Run  StepFunc
}

// Processor is the registry of processing steps kinds can refer to.
type Processor struct {
	steps map[string]StepFunc
}

// NewProcessor returns a registry holding the built-in steps.
func NewProcessor() *Processor {
	return &Processor{steps: map[string]StepFunc{
		StepSniff:       sniff,
		StepFingerprint: fingerprint,
		StepPageCount:   pageCount,
	}}
}

// Register adds or replaces a step.
func (p *Processor) Register(name string, fn StepFunc) {
	p.steps[name] = fn
}

// Resolve returns the steps of k in order.
func (p *Processor) Resolve(k Kind) ([]Step, error) {
	out := make([]Step, 0, len(k.Steps))
	for _, name := range k.Steps {
		fn, ok := p.steps[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (kind %s)", ErrUnknownStep, name, k.Name)
		}
		out = append(out, Step{Name: name, Run: fn})
	}
	return out, nil
}

// sniff checks the detected media type against the kind. Undetectable
// content (application/octet-stream) passes.
func sniff(_ context.Context, a *Asset) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	detected := http.DetectContentType(head[:n])
	mediaType, _, err := mime.ParseMediaType(detected)
	if err != nil {
		mediaType = detected
	}
	a.Metadata["content_type"] = mediaType

	if mediaType == "application/octet-stream" || len(a.Kind.MediaPrefixes) == 0 {
		return nil
	}
	for _, p := range a.Kind.MediaPrefixes {
		if strings.HasPrefix(mediaType, p) {
			return nil
		}
	}
	return fmt.Errorf("content looks like %s, not %s", mediaType, a.Kind.Name)
}

// fingerprint stores the xxhash64 of the content.
func fingerprint(ctx context.Context, a *Asset) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return err
	}
	a.Metadata["fingerprint"] = fmt.Sprintf("%016x", h.Sum64())
	return nil
}

var pdfPageObject = regexp.MustCompile(`/Type\s*/Page(?:[^s]|$)`)

// pageCount counts page objects of PDF documents. Other formats are skipped.
func pageCount(_ context.Context, a *Asset) error {
	if !strings.EqualFold(filepath.Ext(a.FileName), ".pdf") {
		return nil
	}
	raw, err := os.ReadFile(a.Path)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		return fmt.Errorf("not a pdf document")
	}
	pages := len(pdfPageObject.FindAllIndex(raw, -1))
	a.Metadata["page_count"] = strconv.Itoa(pages)
	return nil
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
