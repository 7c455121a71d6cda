package egg

import (
	"fmt"

	"github.com/cuemby/fleetboot/pkg/types"
	"gopkg.in/yaml.v3"
)

const cloudConfigHeader = "#cloud-config\n"

// RenderCloudInit merges the cloud_init, snap, and lxd_* eggs in
// resolved order into a single canonical YAML document. The merge rule
// per key: sequences concatenate, mappings shallow-merge (later wins on
// shared keys), anything else is a scalar override. Same ordered input
// always produces byte-identical output.
func (e *Engine) RenderCloudInit(resolved []*types.Egg) (string, error) {
	merged := newMappingNode()

	var snaps []*yaml.Node
	var lxdImages []*yaml.Node

	for _, eg := range resolved {
		switch eg.EggType {
		case types.EggTypeCloudInit:
			frag, err := parseCloudInitMapping(eg.Content)
			if err != nil {
				return "", invalidCloudInit(fmt.Sprintf("egg %q: %v", eg.Name, err))
			}
			mergeMapping(merged, frag)

		case types.EggTypeSnap:
			snaps = append(snaps, snapEntry(eg))

		case types.EggTypeLXDContainer, types.EggTypeLXDVM:
			lxdImages = append(lxdImages, lxdImageEntry(eg))
		}
	}

	if len(snaps) > 0 {
		extendSequenceKey(merged, "snaps", snaps)
	}
	if len(lxdImages) > 0 {
		lxd := mapGet(merged, "lxd")
		if lxd == nil {
			lxd = newMappingNode()
			mapSet(merged, "lxd", lxd)
		}
		extendSequenceKey(lxd, "images", lxdImages)
	}

	forceBlockStyle(merged)

	body, err := yaml.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("marshal rendered cloud-init: %w", err)
	}

	out := cloudConfigHeader + string(body)
	if len(out) > e.maxRendered {
		return "", tooLarge(len(out), e.maxRendered)
	}
	return out, nil
}

// Validate performs the pure syntactic + root-mapping check used by
// upload endpoints: the text must parse as YAML and its root node must
// be a mapping.
func Validate(yamlText string) error {
	_, err := parseCloudInitMapping(yamlText)
	if err != nil {
		return invalidCloudInit(err.Error())
	}
	return nil
}

func parseCloudInitMapping(content string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return newMappingNode(), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("root must be a YAML mapping")
	}
	return root, nil
}

func newMappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func newSequenceNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

// mapGet returns the value node for key in a mapping node, or nil.
func mapGet(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// mapSet appends a new key/value pair; callers must ensure key is absent.
func mapSet(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

// mergeMapping merges src into dst in place per the cloud-init merge
// rules: new keys append, sequence+sequence concatenates, mapping+mapping
// shallow-merges, anything else is a scalar override.
func mergeMapping(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		key := src.Content[i]
		val := src.Content[i+1]

		existingIdx := -1
		for j := 0; j+1 < len(dst.Content); j += 2 {
			if dst.Content[j].Value == key.Value {
				existingIdx = j
				break
			}
		}

		if existingIdx == -1 {
			dst.Content = append(dst.Content, cloneNode(key), cloneNode(val))
			continue
		}

		existingVal := dst.Content[existingIdx+1]
		switch {
		case existingVal.Kind == yaml.SequenceNode && val.Kind == yaml.SequenceNode:
			existingVal.Content = append(existingVal.Content, cloneNodes(val.Content)...)
		case existingVal.Kind == yaml.MappingNode && val.Kind == yaml.MappingNode:
			for k := 0; k+1 < len(val.Content); k += 2 {
				replaced := false
				for m := 0; m+1 < len(existingVal.Content); m += 2 {
					if existingVal.Content[m].Value == val.Content[k].Value {
						existingVal.Content[m+1] = cloneNode(val.Content[k+1])
						replaced = true
						break
					}
				}
				if !replaced {
					existingVal.Content = append(existingVal.Content, cloneNode(val.Content[k]), cloneNode(val.Content[k+1]))
				}
			}
		default:
			dst.Content[existingIdx+1] = cloneNode(val)
		}
	}
}

// extendSequenceKey appends entries to the sequence stored under key in
// m, creating the key as an empty sequence first if absent.
func extendSequenceKey(m *yaml.Node, key string, entries []*yaml.Node) {
	seq := mapGet(m, key)
	if seq == nil {
		seq = newSequenceNode()
		mapSet(m, key, seq)
	}
	seq.Content = append(seq.Content, entries...)
}

func snapEntry(eg *types.Egg) *yaml.Node {
	entry := newMappingNode()
	mapSet(entry, "name", scalar(eg.SnapName))
	if eg.Channel != "" {
		mapSet(entry, "channel", scalar(eg.Channel))
	}
	if eg.Classic {
		mapSet(entry, "classic", boolScalar(true))
	}
	return entry
}

func lxdImageEntry(eg *types.Egg) *yaml.Node {
	entry := newMappingNode()
	if eg.ImageAlias != "" {
		mapSet(entry, "alias", scalar(eg.ImageAlias))
	}
	if eg.ImageURL != "" {
		mapSet(entry, "url", scalar(eg.ImageURL))
	}
	if len(eg.Profiles) > 0 {
		profiles := newSequenceNode()
		for _, p := range eg.Profiles {
			profiles.Content = append(profiles.Content, scalar(p))
		}
		mapSet(entry, "profiles", profiles)
	}
	return entry
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func boolScalar(v bool) *yaml.Node {
	val := "false"
	if v {
		val = "true"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: val}
}

func cloneNode(n *yaml.Node) *yaml.Node {
	clone := *n
	clone.Content = cloneNodes(n.Content)
	clone.Style = 0
	return &clone
}

func cloneNodes(nodes []*yaml.Node) []*yaml.Node {
	if nodes == nil {
		return nil
	}
	out := make([]*yaml.Node, len(nodes))
	for i, n := range nodes {
		out[i] = cloneNode(n)
	}
	return out
}

// forceBlockStyle strips any flow-style markers recursively so the
// emitted document is always block-style, never `{a: 1}`/`[1, 2]`.
func forceBlockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	for _, c := range n.Content {
		forceBlockStyle(c)
	}
}
