package registry

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tamarinlabs/lwm2md/internal/model"
)

// objectXML mirrors the OMA object-definition XML schema, grounded on
// lwm2m_resource.go's Lwm2mDefinitionXML/Lwm2mObjectDefinitionXML.
type objectXML struct {
	XMLName xml.Name `xml:"LWM2M"`
	Object  struct {
		Name      string `xml:"Name"`
		ID        string `xml:"ObjectID"`
		Multi     string `xml:"MultipleInstances"`
		Mandatory string `xml:"Mandatory"`
		Resources []struct {
			ID         string `xml:"ID,attr"`
			Name       string `xml:"Name"`
			Operations string `xml:"Operations"`
			Multi      string `xml:"MultipleInstances"`
			Mandatory  string `xml:"Mandatory"`
			Type       string `xml:"Type"`
		} `xml:"Resources>Item"`
	} `xml:"Object"`
}

func typeFromXML(s string) model.ResourceType {
	switch s {
	case "String":
		return model.TypeString
	case "Integer":
		return model.TypeInteger
	case "Float":
		return model.TypeFloat
	case "Boolean":
		return model.TypeBoolean
	case "Opaque":
		return model.TypeOpaque
	case "Time":
		return model.TypeTime
	case "Objlnk":
		return model.TypeObjectLink
	default:
		return model.TypeNone
	}
}

func instanceBounds(multi, mandatory bool) (min, max int) {
	if mandatory {
		min = 1
	}
	if multi {
		max = 1 << 15
	} else {
		max = 1
	}
	return
}

func operationsFromXML(s string) model.Mask {
	var m model.Mask
	if strings.Contains(s, "R") {
		m |= model.Mask(model.OpRead)
	}
	if strings.Contains(s, "W") {
		m |= model.Mask(model.OpWrite)
	}
	if strings.Contains(s, "E") {
		m |= model.Mask(model.OpExecute)
	}
	return m
}

func objectFromXML(doc *objectXML) (*ObjectDefinition, error) {
	objectID, err := strconv.Atoi(doc.Object.ID)
	if err != nil {
		return nil, fmt.Errorf("registry: bad ObjectID %q: %w", doc.Object.ID, err)
	}

	min, max := instanceBounds(doc.Object.Multi == "Multiple", doc.Object.Mandatory == "Mandatory")
	obj := &ObjectDefinition{
		ObjectID:     uint16(objectID),
		Name:         doc.Object.Name,
		MinInstances: min,
		MaxInstances: max,
		resources:    make(map[uint16]*ResourceDefinition),
	}

	for _, r := range doc.Object.Resources {
		resourceID, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("registry: object %d: bad resource ID %q: %w", obj.ObjectID, r.ID, err)
		}
		rmin, rmax := instanceBounds(r.Multi == "Multiple", r.Mandatory == "Mandatory")
		def := &ResourceDefinition{
			ResourceID:   uint16(resourceID),
			Name:         r.Name,
			Type:         typeFromXML(r.Type),
			MinInstances: rmin,
			MaxInstances: rmax,
			Operations:   operationsFromXML(r.Operations),
		}
		obj.resources[def.ResourceID] = def
		obj.order = append(obj.order, def.ResourceID)
	}
	sort.Slice(obj.order, func(i, j int) bool { return obj.order[i] < obj.order[j] })
	return obj, nil
}

// LoadXMLDir loads every *.xml file under dir as one OMA object
// definition and installs it into reg, in the manner of
// LoadLwm2mDefinitions.
func LoadXMLDir(reg *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".xml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		doc := &objectXML{}
		if err := xml.Unmarshal(data, doc); err != nil {
			return fmt.Errorf("registry: parsing %s: %w", path, err)
		}
		obj, err := objectFromXML(doc)
		if err != nil {
			return fmt.Errorf("registry: %s: %w", path, err)
		}
		if err := installObject(reg, obj); err != nil {
			return fmt.Errorf("registry: %s: %w", path, err)
		}
	}
	return nil
}

// LoadXMLBytes parses a single OMA object-definition XML document and
// installs it into reg — the in-memory counterpart of LoadXMLDir, used by
// internal/ipc's DefineObject request handler (§6).
func LoadXMLBytes(reg *Registry, data []byte) error {
	doc := &objectXML{}
	if err := xml.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("registry: parsing object definition: %w", err)
	}
	obj, err := objectFromXML(doc)
	if err != nil {
		return err
	}
	return installObject(reg, obj)
}

// yamlObjectFile is the native, friendlier schema accepted alongside OMA
// XML definitions — the daemon's own models/*.yaml format (SPEC_FULL.md
// §1), since every definition in the example pack the teacher ships is
// XML-only and hand-authoring new objects in XML is painful.
type yamlObjectFile struct {
	ObjectID     uint16 `yaml:"objectId"`
	Name         string `yaml:"name"`
	MinInstances int    `yaml:"minInstances"`
	MaxInstances int    `yaml:"maxInstances"`
	Resources    []struct {
		ResourceID   uint16 `yaml:"resourceId"`
		Name         string `yaml:"name"`
		Type         string `yaml:"type"`
		MinInstances int    `yaml:"minInstances"`
		MaxInstances int    `yaml:"maxInstances"`
		Operations   string `yaml:"operations"`
		Default      string `yaml:"default"`
	} `yaml:"resources"`
}

// LoadYAMLDir loads every *.yaml/*.yml file under dir as one object
// definition and installs it into reg.
func LoadYAMLDir(reg *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		obj, err := objectFromYAMLBytes(data)
		if err != nil {
			return fmt.Errorf("registry: parsing %s: %w", path, err)
		}
		if err := installObject(reg, obj); err != nil {
			return fmt.Errorf("registry: %s: %w", path, err)
		}
	}
	return nil
}

// LoadYAMLBytes parses a single yamlObjectFile document and installs it
// into reg — the in-memory counterpart of LoadYAMLDir, as LoadXMLBytes
// is LoadXMLDir's: LoadObjDefFile calls it for --objDefs' per-file CLI
// entries (cmd/lwm2md), which load one already-read file's bytes rather
// than scan a directory. internal/ipc's DefineObject request handler
// accepts XML only, through LoadXMLBytes.
func LoadYAMLBytes(reg *Registry, data []byte) error {
	obj, err := objectFromYAMLBytes(data)
	if err != nil {
		return fmt.Errorf("registry: parsing object definition: %w", err)
	}
	return installObject(reg, obj)
}

func objectFromYAMLBytes(data []byte) (*ObjectDefinition, error) {
	var doc yamlObjectFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	obj := &ObjectDefinition{
		ObjectID:     doc.ObjectID,
		Name:         doc.Name,
		MinInstances: doc.MinInstances,
		MaxInstances: doc.MaxInstances,
		resources:    make(map[uint16]*ResourceDefinition),
	}
	if obj.MaxInstances == 0 {
		obj.MaxInstances = 1
	}
	for _, r := range doc.Resources {
		def := &ResourceDefinition{
			ResourceID:   r.ResourceID,
			Name:         r.Name,
			Type:         typeFromXML(r.Type),
			MinInstances: r.MinInstances,
			MaxInstances: r.MaxInstances,
			Operations:   operationsFromXML(r.Operations),
		}
		if def.MaxInstances == 0 {
			def.MaxInstances = 1
		}
		if r.Default != "" {
			v, err := defaultValueFromString(def.Type, r.Default)
			if err != nil {
				return nil, fmt.Errorf("resource %d default: %w", def.ResourceID, err)
			}
			def.Default = &v
		}
		obj.resources[def.ResourceID] = def
		obj.order = append(obj.order, def.ResourceID)
	}
	sort.Slice(obj.order, func(i, j int) bool { return obj.order[i] < obj.order[j] })
	return obj, nil
}

// LoadObjDefFile loads a single --objDefs entry, dispatching on
// extension — the per-file CLI surface §6 exposes, layered over
// LoadXMLBytes/LoadYAMLBytes the way LoadXMLDir/LoadYAMLDir scan a
// whole directory.
func LoadObjDefFile(reg *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return LoadXMLBytes(reg, data)
	case ".yaml", ".yml":
		return LoadYAMLBytes(reg, data)
	default:
		return fmt.Errorf("registry: %s: unrecognized object definition extension", path)
	}
}

func defaultValueFromString(t model.ResourceType, s string) (model.Value, error) {
	switch t {
	case model.TypeString:
		return model.NewString(s), nil
	case model.TypeBoolean:
		return model.NewBoolean(s == "true"), nil
	case model.TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.Value{}, err
		}
		return model.NewInteger(n), nil
	case model.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Value{}, err
		}
		return model.NewFloat(f), nil
	default:
		return model.ZeroValue(t), nil
	}
}

// installObject installs a fully-built ObjectDefinition (resources map
// and order slice already populated) directly, bypassing
// RegisterObject's empty-map initialization.
func installObject(reg *Registry, obj *ObjectDefinition) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	for _, r := range obj.resources {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.objects[obj.ObjectID]; exists {
		return fmt.Errorf("registry: object %d already defined", obj.ObjectID)
	}
	reg.objects[obj.ObjectID] = obj
	reg.order = append(reg.order, obj.ObjectID)
	sort.Slice(reg.order, func(i, j int) bool { return reg.order[i] < reg.order[j] })
	return nil
}
