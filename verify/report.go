package verify

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Report is a verification in a form suited for encoding.
type Report struct {
	Policy   string          `json:"policy" yaml:"policy"`
	Status   Status          `json:"status" yaml:"status"`
	Results  []Result        `json:"results,omitempty" yaml:"results,omitempty"`
	Contents []ContentReport `json:"contents" yaml:"contents"`
}

// ContentReport holds the results of one signature content.
type ContentReport struct {
	Manifest string   `json:"manifest" yaml:"manifest"`
	Status   Status   `json:"status" yaml:"status"`
	Results  []Result `json:"results" yaml:"results"`
}

// Report summarizes v.
func (v *VerifiedContainer) Report() *Report {
	r := &Report{
		Policy:   v.policy,
		Status:   v.Status(),
		Results:  v.Results(),
		Contents: []ContentReport{},
	}
	for _, vc := range v.contents {
		r.Contents = append(r.Contents, ContentReport{
			Manifest: vc.ManifestPath(),
			Status:   vc.Status(),
			Results:  vc.Results(),
		})
	}
	return r
}

// WriteJSON writes r to w as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes r to w as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// UnmarshalText reads a status written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return errors.Errorf("unknown status %q", string(b))
}
