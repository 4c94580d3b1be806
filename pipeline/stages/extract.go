package stages

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/brandguard/audit"
	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/pipeline"
)

// Transcriber turns the ingested media into speech text
type Transcriber interface {
	Transcribe(ctx context.Context, snap audit.Snapshot) (string, error)
}

// TextRecognizer extracts on-screen text, one entry per detected block
type TextRecognizer interface {
	Recognize(ctx context.Context, snap audit.Snapshot) ([]string, error)
}

// SidecarTranscriber reads "<media>.txt" next to the local artifact
type SidecarTranscriber struct{}

// Transcribe returns the sidecar text, or "" if there is none
func (SidecarTranscriber) Transcribe(ctx context.Context, snap audit.Snapshot) (string, error) {
	p := sidecar(snap, ".txt")
	if p == "" {
		return "", nil
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read transcript %s", p)
	}
	return strings.TrimSpace(string(data)), nil
}

// SidecarRecognizer reads "<media>.ocr.txt", one text block per line
type SidecarRecognizer struct{}

// Recognize returns the non-empty lines of the sidecar file
func (SidecarRecognizer) Recognize(ctx context.Context, snap audit.Snapshot) ([]string, error) {
	p := sidecar(snap, ".ocr.txt")
	if p == "" {
		return nil, nil
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open ocr text %s", p)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, errors.Wrapf(sc.Err(), "scan ocr text %s", p)
}

func sidecar(snap audit.Snapshot, suffix string) string {
	if snap.LocalFilePath == nil || *snap.LocalFilePath == "" {
		return ""
	}
	p := *snap.LocalFilePath
	return strings.TrimSuffix(p, filepath.Ext(p)) + suffix
}

// NewTranscriberStage wraps a Transcriber. Provider failures are recorded
// in the error log rather than failing the run.
func NewTranscriberStage(t Transcriber) pipeline.Stage {
	if t == nil {
		t = SidecarTranscriber{}
	}
	return pipeline.NewStage(StageTranscriber, func(ctx context.Context, state *audit.State, emit pipeline.Emitter) (audit.Update, error) {
		text, err := t.Transcribe(ctx, state.Snapshot())
		if err != nil {
			if ctx.Err() != nil {
				return audit.Update{}, err
			}
			return audit.Update{Errors: []string{StageTranscriber + ": " + err.Error()}}, nil
		}
		if text == "" {
			return audit.Update{}, nil
		}
		return audit.Update{Transcript: &text}, nil
	})
}

// NewOCRStage wraps a TextRecognizer. Provider failures are recorded in the
// error log rather than failing the run.
func NewOCRStage(r TextRecognizer) pipeline.Stage {
	if r == nil {
		r = SidecarRecognizer{}
	}
	return pipeline.NewStage(StageOCR, func(ctx context.Context, state *audit.State, emit pipeline.Emitter) (audit.Update, error) {
		lines, err := r.Recognize(ctx, state.Snapshot())
		if err != nil {
			if ctx.Err() != nil {
				return audit.Update{}, err
			}
			return audit.Update{Errors: []string{StageOCR + ": " + err.Error()}}, nil
		}
		return audit.Update{OCRText: lines}, nil
	})
}
