package configstore

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kaspa-aio/controller/pkg/errdefs"
)

// ComposeFile is a compose-style service declaration. Only image-tag
// replacement is supported; the document is otherwise treated as opaque so
// comments and formatting survive a round trip.
type ComposeFile struct {
	doc *yaml.Node
}

// ParseCompose parses a compose document.
func ParseCompose(data []byte) (*ComposeFile, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindValidation, "compose file is not valid yaml")
	}
	return &ComposeFile{doc: &doc}, nil
}

// Serialize renders the document.
func (c *ComposeFile) Serialize() ([]byte, error) {
	if c.doc == nil || len(c.doc.Content) == 0 {
		return nil, nil
	}
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(c.doc.Content[0]); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// servicesNode returns the mapping under the top-level services key.
func (c *ComposeFile) servicesNode() *yaml.Node {
	if c.doc == nil || len(c.doc.Content) == 0 {
		return nil
	}
	root := c.doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "services" && root.Content[i+1].Kind == yaml.MappingNode {
			return root.Content[i+1]
		}
	}
	return nil
}

// ServiceNames lists the declared service names, sorted.
func (c *ComposeFile) ServiceNames() []string {
	services := c.servicesNode()
	if services == nil {
		return nil
	}
	var names []string
	for i := 0; i+1 < len(services.Content); i += 2 {
		names = append(names, services.Content[i].Value)
	}
	sort.Strings(names)
	return names
}

// imageNode returns the image scalar of one service.
func (c *ComposeFile) imageNode(serviceName string) *yaml.Node {
	services := c.servicesNode()
	if services == nil {
		return nil
	}
	for i := 0; i+1 < len(services.Content); i += 2 {
		if services.Content[i].Value != serviceName {
			continue
		}
		svc := services.Content[i+1]
		if svc.Kind != yaml.MappingNode {
			return nil
		}
		for j := 0; j+1 < len(svc.Content); j += 2 {
			if svc.Content[j].Value == "image" && svc.Content[j+1].Kind == yaml.ScalarNode {
				return svc.Content[j+1]
			}
		}
	}
	return nil
}

// ImageOf returns the image reference of a service.
func (c *ComposeFile) ImageOf(serviceName string) (string, error) {
	node := c.imageNode(serviceName)
	if node == nil {
		return "", errdefs.New(errdefs.KindNotFound,
			"service %q has no image declaration", serviceName)
	}
	return node.Value, nil
}

// SetImageTag rewrites only the tag of a service's image reference.
func (c *ComposeFile) SetImageTag(serviceName, tag string) error {
	node := c.imageNode(serviceName)
	if node == nil {
		return errdefs.New(errdefs.KindNotFound,
			"service %q has no image declaration", serviceName)
	}
	node.Value = fmt.Sprintf("%s:%s", repositoryOf(node.Value), tag)
	return nil
}

func repositoryOf(image string) string {
	for i := len(image) - 1; i >= 0; i-- {
		if image[i] == ':' {
			return image[:i]
		}
		if image[i] == '/' {
			break
		}
	}
	return image
}
