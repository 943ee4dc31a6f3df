package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/ndlib/sigbag/client"
	"github.com/ndlib/sigbag/config"
	"github.com/ndlib/sigbag/container"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/signature"
	"github.com/ndlib/sigbag/verify"
)

const usage = `
sigbag <command> <command arguments>

Possible commands:
    create  <archive> <files/directories>
    add     <archive> <files/directories>
    info    <archive>
    verify  <archive>
    merge   <output> <archive> <archive>...
    extend  <archive> [<output>]
    extract <archive> [<document names>]
    keygen  <keyfile>

    ls
    push    <container id> <archive>
    pull    <container id> <archive>
    check   <container id>
`

// errFailed means verification found problems. It gives exit status 1.
var errFailed = errors.New("verification failed")

type options struct {
	config   string
	keyfile  string
	root     string
	format   string
	out      string
	annots   []string
	server   string
	token    string
	version  int
	verbose  bool
	cfg      *config.Config
	stdout   io.Writer
	flagHelp bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case err == errFailed:
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func run(args []string, stdout io.Writer) error {
	var o options
	fs := pflag.NewFlagSet("sigbag", pflag.ContinueOnError)
	fs.StringVarP(&o.config, "config", "c", "", "TOML configuration file")
	fs.StringVarP(&o.keyfile, "key", "k", "", "signing key file, overriding the configuration")
	fs.StringVar(&o.root, "root", ".", "directory document names are relative to")
	fs.StringVarP(&o.format, "format", "f", "text", "verification report format: text, json or yaml")
	fs.StringVarP(&o.out, "out", "o", ".", "directory to extract documents into")
	fs.StringArrayVarP(&o.annots, "annotate", "a", nil, "add an annotation, given as domain:type:file")
	fs.StringVar(&o.server, "server", "http://localhost:14000", "sigbag server to use")
	fs.StringVar(&o.token, "token", "", "API token for the server")
	fs.IntVar(&o.version, "version", 0, "container version to pull")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "display more information")
	fs.BoolVarP(&o.flagHelp, "help", "h", false, "show help")
	fs.SetOutput(stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if o.flagHelp || len(args) == 0 {
		fmt.Fprint(stdout, usage)
		fs.PrintDefaults()
		return nil
	}

	var err error
	o.cfg, err = config.Load(o.config)
	if err != nil {
		return err
	}
	if o.keyfile != "" {
		o.cfg.KeyFile = o.keyfile
	}
	o.stdout = stdout

	need := func(n int) error {
		if len(args) < n {
			return errors.Errorf("%s needs at least %d arguments", args[0], n-1)
		}
		return nil
	}
	switch args[0] {
	case "create":
		if err = need(3); err == nil {
			err = o.doAdd(args[1], args[2:], false)
		}
	case "add":
		if err = need(2); err == nil {
			err = o.doAdd(args[1], args[2:], true)
		}
	case "info":
		if err = need(2); err == nil {
			err = o.doInfo(args[1])
		}
	case "verify":
		if err = need(2); err == nil {
			err = o.doVerify(args[1])
		}
	case "merge":
		if err = need(4); err == nil {
			err = o.doMerge(args[1], args[2:])
		}
	case "extend":
		if err = need(2); err == nil {
			dest := args[1]
			if len(args) > 2 {
				dest = args[2]
			}
			err = o.doExtend(args[1], dest)
		}
	case "extract":
		if err = need(2); err == nil {
			err = o.doExtract(args[1], args[2:])
		}
	case "keygen":
		if err = need(2); err == nil {
			err = o.doKeygen(args[1])
		}
	case "ls":
		err = o.doList()
	case "push":
		if err = need(3); err == nil {
			err = o.doPush(args[1], args[2])
		}
	case "pull":
		if err = need(3); err == nil {
			err = o.doPull(args[1], args[2])
		}
	case "check":
		if err = need(2); err == nil {
			err = o.doCheck(args[1])
		}
	default:
		err = errors.Errorf("unknown command %q", args[0])
	}
	return err
}

func (o *options) read(name string) (*container.Container, error) {
	r, err := o.cfg.Reader()
	if err != nil {
		return nil, err
	}
	return r.ReadFile(name)
}

// documents turns the given files into documents. Directories are walked.
// Names are relative to o.root.
func (o *options) documents(files []string) ([]container.Document, error) {
	var result []container.Document
	for _, f := range files {
		err := filepath.WalkDir(f, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			name, err := filepath.Rel(o.root, path)
			if err != nil {
				return err
			}
			name = filepath.ToSlash(name)
			if strings.HasPrefix(name, "../") {
				return errors.Errorf("%s is not inside %s", path, o.root)
			}
			mimetype := mime.TypeByExtension(filepath.Ext(path))
			if mimetype == "" {
				mimetype = "application/octet-stream"
			}
			if o.verbose {
				fmt.Fprintf(o.stdout, "adding %s (%s)\n", name, mimetype)
			}
			result = append(result, container.NewFileDocument(path, name, mimetype))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (o *options) annotations() ([]container.Annotation, error) {
	var result []container.Annotation
	for _, a := range o.annots {
		v := strings.SplitN(a, ":", 3)
		if len(v) != 3 {
			return nil, errors.Errorf("annotation %q is not domain:type:file", a)
		}
		typ, err := manifest.ParseAnnotationType(strings.ToLower(v[1]))
		if err != nil {
			return nil, err
		}
		result = append(result, container.NewFileAnnotation(v[2], v[0], typ))
	}
	return result, nil
}

// doAdd packages files into a new signature content. If existing is true
// the content is added to the archive, otherwise a new archive is made.
func (o *options) doAdd(archive string, files []string, existing bool) error {
	var c *container.Container
	if existing {
		var err error
		c, err = o.read(archive)
		if err != nil {
			if c != nil {
				c.Close()
			}
			return err
		}
	} else if _, err := os.Stat(archive); err == nil {
		return errors.Errorf("%s already exists", archive)
	}
	docs, err := o.documents(files)
	if err != nil {
		return err
	}
	annots, err := o.annotations()
	if err != nil {
		return err
	}
	p, err := o.cfg.Packager()
	if err != nil {
		return err
	}
	result, err := p.Package(c, docs, annots)
	if err != nil {
		if c != nil {
			c.Close()
		}
		return err
	}
	defer result.Close()
	return container.WriteFile(archive, result)
}

func (o *options) doInfo(archive string) error {
	c, err := o.read(archive)
	if c == nil {
		return err
	}
	defer c.Close()
	if err != nil {
		fmt.Fprintln(o.stdout, "Damaged:", err)
	}
	fmt.Fprintln(o.stdout, "Archive:", archive)
	fmt.Fprintln(o.stdout, "MimeType:", c.MimeType())
	for _, sc := range c.Contents() {
		fmt.Fprintln(o.stdout, "---")
		w := tabwriter.NewWriter(o.stdout, 5, 1, 3, ' ', 0)
		fmt.Fprintf(w, "Manifest:\t%s\n", sc.ManifestPath())
		if sig := sc.Signature(); sig != nil {
			fmt.Fprintf(w, "Signed:\t%s\n", sig.SignedHash())
			fmt.Fprintf(w, "Extended:\t%v\n", sig.IsExtended())
		}
		w.Flush()
		fmt.Fprintf(o.stdout, " Document\n")
		for _, d := range sc.Documents() {
			mark := ""
			if !d.Writable() {
				mark = " (detached)"
			}
			fmt.Fprintf(o.stdout, "  %s  %s%s\n", d.Name(), d.MimeType(), mark)
		}
		if as := sc.Annotations(); len(as) > 0 {
			fmt.Fprintf(o.stdout, " Annotation\n")
			for _, a := range as {
				mark := ""
				if !a.Present() {
					mark = " (removed)"
				}
				fmt.Fprintf(o.stdout, "  %s  %s%s\n", a.Domain(), a.Type(), mark)
			}
		}
	}
	for _, d := range c.Unknown() {
		fmt.Fprintln(o.stdout, "Unknown:", d.Name())
	}
	return nil
}

func (o *options) doVerify(archive string) error {
	c, err := o.read(archive)
	if c == nil {
		return err
	}
	p, err := o.cfg.VerifyPolicy()
	if err != nil {
		c.Close()
		return err
	}
	v := verify.Verify(c, p)
	defer v.Close()
	report := v.Report()
	switch strings.ToLower(o.format) {
	case "json":
		err = report.WriteJSON(o.stdout)
	case "yaml":
		err = report.WriteYAML(o.stdout)
	default:
		err = writeReport(o.stdout, report, o.verbose)
	}
	if err != nil {
		return err
	}
	if !v.Passed() {
		return errFailed
	}
	return nil
}

// writeReport prints the report as text. Only problems are listed unless
// verbose is set.
func writeReport(out io.Writer, r *verify.Report, verbose bool) error {
	w := tabwriter.NewWriter(out, 5, 1, 3, ' ', 0)
	line := func(x verify.Result) {
		if !verbose && (x.Status == verify.OK || x.Status == verify.Ignored) {
			return
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", x.Status, x.Rule, x.Element, x.Message)
	}
	for _, x := range r.Results {
		line(x)
	}
	for _, cr := range r.Contents {
		fmt.Fprintf(w, "%s\t%s\t\t\n", cr.Status, cr.Manifest)
		for _, x := range cr.Results {
			line(x)
		}
	}
	fmt.Fprintf(w, "%s\t(policy %s)\t\t\n", r.Status, r.Policy)
	return w.Flush()
}

func (o *options) doMerge(dest string, archives []string) error {
	var result *container.Container
	for _, name := range archives {
		c, err := o.read(name)
		if err != nil {
			if c != nil {
				c.Close()
			}
			if result != nil {
				result.Close()
			}
			return err
		}
		if result == nil {
			result = c
			continue
		}
		merged, err := container.Merge(result, c)
		if err != nil {
			result.Close()
			c.Close()
			return errors.Wrap(err, name)
		}
		result = merged
	}
	defer result.Close()
	return container.WriteFile(dest, result)
}

func (o *options) doExtend(archive, dest string) error {
	c, err := o.read(archive)
	if err != nil {
		if c != nil {
			c.Close()
		}
		return err
	}
	sf, err := o.cfg.Signer()
	if err != nil {
		c.Close()
		return err
	}
	result, err := container.Extend(c, sf)
	if err != nil {
		c.Close()
		return err
	}
	defer result.Close()
	n := 0
	for _, sc := range result.Contents() {
		if sc.NewlyExtended() {
			n++
		}
	}
	fmt.Fprintf(o.stdout, "extended %d signatures\n", n)
	return container.WriteFile(dest, result)
}

// doExtract copies documents into o.out. With no names every document
// held in the archive is extracted.
func (o *options) doExtract(archive string, names []string) error {
	c, err := o.read(archive)
	if c == nil {
		return err
	}
	defer c.Close()
	var docs []container.Document
	if len(names) == 0 {
		for _, d := range c.Documents() {
			if d.Writable() {
				docs = append(docs, d)
			}
		}
	}
	for _, name := range names {
		d, ok := c.Document(name)
		if !ok {
			return errors.Errorf("no document %s", name)
		}
		docs = append(docs, d)
	}
	for _, d := range docs {
		if err := extract(o.out, d); err != nil {
			return err
		}
		if o.verbose {
			fmt.Fprintln(o.stdout, d.Name())
		}
	}
	return nil
}

func extract(dir string, d container.Document) error {
	target := filepath.Join(dir, filepath.FromSlash(d.Name()))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(filepath.Separator)) {
		return errors.Errorf("document name %s leaves %s", d.Name(), dir)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := d.Open()
	if err != nil {
		return errors.Wrap(err, d.Name())
	}
	defer rc.Close()
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, rc)
	err2 := f.Close()
	if err == nil {
		err = err2
	}
	return err
}

func (o *options) doKeygen(keyfile string) error {
	if _, err := os.Stat(keyfile); err == nil {
		return errors.Errorf("%s already exists", keyfile)
	}
	key, err := signature.GenerateKey()
	if err != nil {
		return err
	}
	if err := signature.WriteKeyFile(keyfile, key); err != nil {
		return err
	}
	fmt.Fprintln(o.stdout, hex.EncodeToString(key.Public().(ed25519.PublicKey)))
	return nil
}

func (o *options) connection() *client.Connection {
	return &client.Connection{HostURL: strings.TrimSuffix(o.server, "/"), Token: o.token}
}

func (o *options) doList() error {
	ids, err := o.connection().List()
	for _, id := range ids {
		fmt.Fprintln(o.stdout, id)
	}
	return err
}

func (o *options) doPush(id, archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	result, err := o.connection().Upload(id, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.stdout, "%s version %d\n", id, result.Version)
	return nil
}

func (o *options) doPull(id, archive string) error {
	tmp := archive + ".partial"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return err
	}
	n, err := o.connection().Download(f, id, o.version)
	err2 := f.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if o.verbose {
		fmt.Fprintf(o.stdout, "%s version %d\n", id, n)
	}
	return os.Rename(tmp, archive)
}

func (o *options) doCheck(id string) error {
	report, err := o.connection().Verify(id)
	if err != nil {
		return err
	}
	for _, p := range report.Problems() {
		fmt.Fprintln(o.stdout, p)
	}
	fmt.Fprintf(o.stdout, "%s %s\n", report.Status, id)
	if report.Status == verify.NOK.String() {
		return errFailed
	}
	return nil
}
