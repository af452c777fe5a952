// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"mime"
	"os"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/secrets"
	yaml "gopkg.in/yaml.v2"
)

// Configuration contains everything the storage adapter needs to know: how to
// authenticate, which containers to use, how containers are published, and the
// header/gzip policies applied to saved objects. It is instantiated from YAML
// once at startup and never mutated afterwards.
type Configuration struct {
	Auth AuthParameters `yaml:"auth"`

	// ContainerName is the default container for uploads. StaticContainerName
	// is used by the `sync` task for static assets; it may be empty if that
	// task is not used.
	ContainerName       string `yaml:"container"`
	StaticContainerName string `yaml:"static_container"`

	// TTLSeconds is the cache lifetime hint that gets published on the
	// container (X-Container-Meta-Web-Ttl) when it is made public.
	TTLSeconds uint32 `yaml:"ttl"`

	// Publication settings for deriving the container's public URL. If
	// ContainerURI (or ContainerSSLURI when UseSSL is set) is given, it takes
	// precedence over the URL derived from the Swift endpoint. CNAMEs maps
	// derived URLs to their static CNAME replacements.
	UseSSL          bool              `yaml:"use_ssl"`
	ContainerURI    string            `yaml:"container_uri"`
	ContainerSSLURI string            `yaml:"container_ssl_uri"`
	CNAMEs          map[string]string `yaml:"cnames"`

	// HeaderRules are applied in declaration order; see func
	// HeaderPolicy.Resolve for the merge semantics.
	HeaderRules []HeaderRule `yaml:"headers"`

	// GzipContentTypes lists the content types that are transcoded to gzip
	// on save.
	GzipContentTypes []string `yaml:"gzip_content_types"`

	// DisableObjectCache turns off the per-connection object metadata cache;
	// lookups then always issue a HEAD request on the object.
	DisableObjectCache bool `yaml:"disable_object_cache"`
}

// AuthParameters describes how to authenticate with Keystone. All values are
// fixed at configuration load time. When AuthURL is empty, credentials are
// taken from the usual OS_* environment variables instead.
type AuthParameters struct {
	AuthURL           string               `yaml:"auth_url"`
	UserName          string               `yaml:"user_name"`
	UserDomainName    string               `yaml:"user_domain_name"`
	Password          secrets.FromEnv `yaml:"password"`
	ProjectName       string               `yaml:"project_name"`
	ProjectDomainName string               `yaml:"project_domain_name"`
	RegionName        string               `yaml:"region_name"`
	// Interface selects the network locality of the Swift endpoint, either
	// "public" (the default) or "internal" (the ServiceNet analog).
	Interface string `yaml:"interface"`
}

// NewConfiguration reads and validates the given configuration file.
func NewConfiguration(path string) (cfg Configuration, err error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}
	err = yaml.UnmarshalStrict(buf, &cfg)
	if err != nil {
		return Configuration{}, fmt.Errorf("cannot parse configuration: %w", err)
	}

	errs := cfg.validate()
	if !errs.IsEmpty() {
		return Configuration{}, fmt.Errorf("configuration file %s is invalid: %s", path, errs.Join(", "))
	}
	return cfg, nil
}

func (cfg Configuration) validate() (errs errext.ErrorSet) {
	if cfg.ContainerName == "" {
		errs.Addf("missing configuration value: container")
	}
	switch cfg.Auth.Interface {
	case "", "public", "internal":
		// ok
	default:
		errs.Addf("invalid configuration value: auth.interface must be %q or %q, not %q",
			"public", "internal", cfg.Auth.Interface)
	}
	for idx, rule := range cfg.HeaderRules {
		errs.Append(rule.validate(fmt.Sprintf("headers[%d]", idx)))
	}
	return errs
}

// ToAuthOptions casts these parameters into the format used by Gophercloud.
func (auth AuthParameters) ToAuthOptions() gophercloud.AuthOptions {
	return gophercloud.AuthOptions{
		IdentityEndpoint: auth.AuthURL,
		Username:         auth.UserName,
		DomainName:       auth.UserDomainName,
		Password:         string(auth.Password),
		AllowReauth:      true,
		Scope: &gophercloud.AuthScope{
			ProjectName: auth.ProjectName,
			DomainName:  auth.ProjectDomainName,
		},
	}
}

// EndpointOpts casts these parameters into the endpoint selector used by
// Gophercloud when locating the Swift endpoint in the Keystone catalog.
func (auth AuthParameters) EndpointOpts() gophercloud.EndpointOpts {
	availability := gophercloud.AvailabilityPublic
	if auth.Interface == "internal" {
		availability = gophercloud.AvailabilityInternal
	}
	return gophercloud.EndpointOpts{
		Region:       auth.RegionName,
		Availability: availability,
	}
}

// IsGzipContentType returns whether objects of this content type are
// transcoded to gzip on save. Media type parameters like charset do not
// affect eligibility.
func (cfg Configuration) IsGzipContentType(contentType string) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	for _, t := range cfg.GzipContentTypes {
		if t == contentType {
			return true
		}
	}
	return false
}
