package service

import (
	"fmt"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

// ObjectConfig is one in / inout / out entry of a service configuration
type ObjectConfig struct {
	Key         string
	UID         string
	Access      Access
	AutoConnect bool
	Optional    bool
	Group       string
	Index       int
}

// Config is the runtime view of a service configuration tree:
//
//	uid="reader" type="ImageReader" auto_connect="false" worker="io"
//	in  = {key="image" uid="image-1" auto_connect="true"}
//	in  = {group="views" key={uid="v0"} key={uid="v1"}}
//	out = {key="result" uid="result-1"}
type Config struct {
	UID         string
	Type        string
	AutoConnect bool
	Worker      string
	Objects     []ObjectConfig
	GroupSize   map[string]int
	Tree        *types.ConfigTree
}

var accessKeys = []string{"in", "inout", "out"}

// ParseConfig reads a service configuration tree. Missing keys, missing uids on
// in/inout entries and malformed booleans fail with ErrConfiguration.
func ParseConfig(tree *types.ConfigTree) (*Config, error) {
	if tree == nil {
		return nil, fmt.Errorf("%w: nil configuration tree", errors.ErrConfiguration)
	}

	autoConnect, err := tree.Bool("auto_connect", false)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		UID:         tree.GetOr("uid", ""),
		Type:        tree.GetOr("type", ""),
		AutoConnect: autoConnect,
		Worker:      tree.GetOr("worker", ""),
		GroupSize:   make(map[string]int),
		Tree:        tree,
	}

	for _, e := range tree.Entries() {
		access, ok := entryAccess(e.Key)
		if !ok {
			continue
		}
		if !e.IsTree() {
			return nil, fmt.Errorf("%w: %q entry must be a tree", errors.ErrConfiguration, e.Key)
		}

		objs, err := parseObjectEntry(e.Tree, access)
		if err != nil {
			return nil, err
		}
		for _, oc := range objs {
			if oc.Group != "" {
				cfg.GroupSize[oc.Group]++
			}
		}
		cfg.Objects = append(cfg.Objects, objs...)
	}
	return cfg, nil
}

func entryAccess(key string) (Access, bool) {
	for _, k := range accessKeys {
		if k == key {
			access, _ := ParseAccess(k)
			return access, true
		}
	}
	return 0, false
}

func parseObjectEntry(t *types.ConfigTree, access Access) ([]ObjectConfig, error) {
	autoConnect, err := t.Bool("auto_connect", false)
	if err != nil {
		return nil, err
	}
	optional, err := t.Bool("optional", false)
	if err != nil {
		return nil, err
	}

	if group, ok := t.Get("group"); ok {
		members := t.Children("key")
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: group %q has no key entries", errors.ErrConfiguration, group)
		}
		objs := make([]ObjectConfig, 0, len(members))
		for i, m := range members {
			uid, ok := m.Get("uid")
			if !ok && access != AccessOutput {
				return nil, fmt.Errorf("%w: %s group %q entry %d has no uid", errors.ErrConfiguration, access, group, i)
			}
			memberOptional, err := m.Bool("optional", optional)
			if err != nil {
				return nil, err
			}
			objs = append(objs, ObjectConfig{
				Key:         GroupKey(group, i),
				UID:         uid,
				Access:      access,
				AutoConnect: autoConnect,
				Optional:    memberOptional,
				Group:       group,
				Index:       i,
			})
		}
		return objs, nil
	}

	if err := t.Require("key"); err != nil {
		return nil, err
	}
	key, _ := t.Get("key")
	uid, ok := t.Get("uid")
	if !ok && access != AccessOutput {
		return nil, fmt.Errorf("%w: %s %q has no uid", errors.ErrConfiguration, access, key)
	}

	oc := ObjectConfig{
		Key:         key,
		UID:         uid,
		Access:      access,
		AutoConnect: autoConnect,
		Optional:    optional,
		Index:       -1,
	}
	if t.Has("index") {
		index, err := t.Int("index", 0)
		if err != nil {
			return nil, err
		}
		oc.Group = key
		oc.Index = index
		oc.Key = GroupKey(key, index)
	}
	return []ObjectConfig{oc}, nil
}
