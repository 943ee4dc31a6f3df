package container

import (
	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/signature"
)

// Extend returns a container whose contents carry extended signatures. Each
// content with a signature that is not yet extended is rebuilt with the
// extended signature and marked NewlyExtended. Other contents are kept as
// they are. c is not changed; the result owns it.
func Extend(c *Container, f signature.Factory) (*Container, error) {
	var contents []*SignatureContent
	for _, sc := range c.contents {
		sig := sc.Signature()
		if sig == nil || sig.IsExtended() {
			contents = append(contents, sc)
			continue
		}
		if sc.SignatureFactory() != nil && sc.SignatureFactory().Type() != f.Type() {
			return nil, errors.Wrapf(signature.ErrWrongType, "%s is signed with %s",
				sc.ManifestPath(), sc.SignatureFactory().Type())
		}
		ext, err := f.Extend(sig)
		if err != nil {
			return nil, errors.Wrapf(err, "extending %s", sc.ManifestPath())
		}
		p := sc.Parts()
		p.Signature = ext
		p.NewlyExtended = true
		contents = append(contents, NewSignatureContent(p))
	}
	return derive(c.mimeType, contents, c.Unknown(), c), nil
}
