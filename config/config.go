// Package config decodes the map[string]string the host annex protocol hands
// over (via repeated GETCONFIG calls) into a typed Options struct, following
// the defaulting-then-validating shape of a storage-driver parameter parser.
package config

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/datalad/datalad-dataverse/dvdoi"
	"github.com/datalad/datalad-dataverse/errcode"
)

// ExternalType is the externaltype value this implementation identifies
// itself with; GETCONFIG("externaltype") must either be unset or match it.
const ExternalType = "dataverse"

// Options is the decoded remote configuration.
type Options struct {
	URL         string `mapstructure:"url"`
	DOI         string `mapstructure:"doi"`
	RootPath    string `mapstructure:"rootpath"`
	Credential  string `mapstructure:"credential"`
	ExportTree  bool   `mapstructure:"-"`
	Encryption  string `mapstructure:"encryption"`
	ExternalType string `mapstructure:"externaltype"`
}

// Parse decodes raw (the map handed over via GETCONFIG) into Options,
// stripping a trailing slash from url and validating the constant-valued
// keys.
func Parse(raw map[string]string) (*Options, error) {
	opts := &Options{}

	decodeInput := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		decodeInput[k] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errcode.Wrap(errcode.Validation, err, "build config decoder")
	}
	if err := decoder.Decode(decodeInput); err != nil {
		return nil, errcode.Wrap(errcode.Validation, err, "decode remote configuration")
	}

	opts.URL = strings.TrimRight(opts.URL, "/")
	if opts.URL == "" {
		return nil, errcode.New(errcode.Validation, "url must be set")
	}
	doi, err := dvdoi.Normalize(opts.DOI)
	if err != nil {
		return nil, err
	}
	opts.DOI = doi

	if et, ok := raw["exporttree"]; ok {
		switch strings.ToLower(et) {
		case "yes":
			opts.ExportTree = true
		case "no", "":
			opts.ExportTree = false
		default:
			return nil, errcode.Newf(errcode.Validation, "exporttree must be yes/no, got %q", et)
		}
	}

	if opts.Encryption != "" && opts.Encryption != "none" {
		return nil, errcode.Newf(errcode.Validation, "encryption must be \"none\", got %q", opts.Encryption)
	}
	opts.Encryption = "none"

	if opts.ExternalType != "" && opts.ExternalType != ExternalType {
		return nil, errcode.Newf(errcode.Validation, "externaltype must be %q, got %q", ExternalType, opts.ExternalType)
	}
	opts.ExternalType = ExternalType

	return opts, nil
}
