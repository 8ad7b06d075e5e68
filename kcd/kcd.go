// Package kcd reads and writes KCD (Kayak CAN Description) files: the XML
// format used to describe a bus's frames and signals. Only the subset of
// the format this module's Configuration model understands is read or
// written — Message/Producer/NodeRef/Signal/Value/Notes.
package kcd

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/caran/canbus/canbus"
	"github.com/caran/canbus/signal"
)

const (
	xmlNamespace          = "http://kayak.2codeornot2code.org/1.0"
	xsiNamespace          = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocation        = "Definition.xsd"
	defaultBusName        = "Mainbus"
	floatComparisonEpsilon = 0.00001
)

type document struct {
	XMLName xml.Name    `xml:"NetworkDefinition"`
	Xmlns   string      `xml:"xmlns,attr,omitempty"`
	Xsi     string      `xml:"xmlns:xsi,attr,omitempty"`
	Schema  string      `xml:"xsi:noNamespaceSchemaLocation,attr,omitempty"`
	Doc     *struct{}   `xml:"Document"`
	Buses   []busXML    `xml:"Bus"`
}

type busXML struct {
	Name     string       `xml:"name,attr"`
	Messages []messageXML `xml:"Message"`
}

type messageXML struct {
	ID       string      `xml:"id,attr"`
	Name     string      `xml:"name,attr"`
	Length   string      `xml:"length,attr,omitempty"`
	Interval string      `xml:"interval,attr,omitempty"`
	Format   string      `xml:"format,attr,omitempty"`
	Producer *producerXML `xml:"Producer"`
	Signals  []signalXML `xml:"Signal"`
}

type producerXML struct {
	NodeRefs []nodeRefXML `xml:"NodeRef"`
}

type nodeRefXML struct {
	ID string `xml:"id,attr"`
}

type signalXML struct {
	Name       string   `xml:"name,attr"`
	Offset     int      `xml:"offset,attr"`
	Length     string   `xml:"length,attr,omitempty"`
	Endianness string   `xml:"endianess,attr,omitempty"` // NOTE: the spelling, matches the format
	Notes      string   `xml:"Notes,omitempty"`
	Value      *valueXML `xml:"Value"`
}

type valueXML struct {
	Slope     string `xml:"slope,attr,omitempty"`
	Intercept string `xml:"intercept,attr,omitempty"`
	Unit      string `xml:"unit,attr,omitempty"`
	Min       string `xml:"min,attr,omitempty"`
	Max       string `xml:"max,attr,omitempty"`
	Type      string `xml:"type,attr,omitempty"`
}

// Read parses a KCD file and returns its Configuration. busname selects
// which <Bus> element to read; an empty string selects the first
// alphabetically.
func Read(filename string, busname string) (*canbus.Configuration, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("kcd: reading %s: %w", filename, err)
	}
	var doc document
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("kcd: parsing %s: %w", filename, err)
	}
	if len(doc.Buses) == 0 {
		return nil, fmt.Errorf("kcd: no bus definition found in %s", filename)
	}

	names := make([]string, 0, len(doc.Buses))
	byName := make(map[string]*busXML, len(doc.Buses))
	for i := range doc.Buses {
		b := &doc.Buses[i]
		names = append(names, b.Name)
		byName[b.Name] = b
	}
	sort.Strings(names)

	if busname == "" {
		busname = names[0]
	}
	bus, ok := byName[busname]
	if !ok {
		return nil, fmt.Errorf("kcd: no bus named %q in %s; available: %s", busname, filename, strings.Join(names, ", "))
	}

	config := canbus.NewConfiguration(busname)
	for _, m := range bus.Messages {
		fd, err := parseFrameDefinition(m)
		if err != nil {
			return nil, fmt.Errorf("kcd: frame %q in %s: %w", m.Name, filename, err)
		}
		config.AddFrameDefinition(fd)
	}
	return config, nil
}

func parseFrameDefinition(m messageXML) (*canbus.FrameDefinition, error) {
	frameID, err := strconv.ParseUint(strings.TrimPrefix(m.ID, "0x"), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid frame id %q: %w", m.ID, err)
	}

	format := canbus.Standard
	if m.Format == "extended" {
		format = canbus.Extended
	}

	dlc := 8
	if m.Length != "" {
		n, err := strconv.Atoi(m.Length)
		if err != nil {
			return nil, fmt.Errorf("invalid length %q: %w", m.Length, err)
		}
		dlc = n
	}

	fd, err := canbus.NewFrameDefinition(uint32(frameID), m.Name, dlc, format)
	if err != nil {
		return nil, err
	}

	if m.Interval != "" {
		interval, err := strconv.ParseFloat(m.Interval, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", m.Interval, err)
		}
		if err := fd.SetCycleTime(int(interval)); err != nil {
			return nil, err
		}
	}

	if m.Producer != nil {
		for _, ref := range m.Producer.NodeRefs {
			fd.AddProducer(ref.ID)
		}
	}

	for _, s := range m.Signals {
		sigdef, err := parseSignalDefinition(s)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", s.Name, err)
		}
		fd.Signals = append(fd.Signals, sigdef)
	}
	return fd, nil
}

func parseSignalDefinition(s signalXML) (*signal.Definition, error) {
	numBits := 1
	if s.Length != "" {
		n, err := strconv.Atoi(s.Length)
		if err != nil {
			return nil, fmt.Errorf("invalid length %q: %w", s.Length, err)
		}
		numBits = n
	}

	opts := []signal.Option{signal.WithComment(s.Notes)}
	if s.Endianness == "big" {
		opts = append(opts, signal.WithEndianness(signal.Big))
	}

	if s.Value != nil {
		if s.Value.Slope != "" {
			v, err := strconv.ParseFloat(s.Value.Slope, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid slope %q: %w", s.Value.Slope, err)
			}
			opts = append(opts, signal.WithScale(v))
		}
		if s.Value.Intercept != "" {
			v, err := strconv.ParseFloat(s.Value.Intercept, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid intercept %q: %w", s.Value.Intercept, err)
			}
			opts = append(opts, signal.WithOffset(v))
		}
		if s.Value.Unit != "" {
			opts = append(opts, signal.WithUnit(s.Value.Unit))
		}
		if s.Value.Min != "" {
			v, err := strconv.ParseFloat(s.Value.Min, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid min %q: %w", s.Value.Min, err)
			}
			opts = append(opts, signal.WithMin(v))
		}
		if s.Value.Max != "" {
			v, err := strconv.ParseFloat(s.Value.Max, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid max %q: %w", s.Value.Max, err)
			}
			opts = append(opts, signal.WithMax(v))
		}
		switch s.Value.Type {
		case "signed":
			opts = append(opts, signal.WithType(signal.Signed))
		case "single":
			opts = append(opts, signal.WithType(signal.Single))
		case "double":
			opts = append(opts, signal.WithType(signal.Double))
		}
	}

	return signal.New(s.Name, s.Offset, numBits, opts...)
}

// Write serializes config as a KCD file at filename. If config.BusName is
// empty, defaultBusName is used.
func Write(config *canbus.Configuration, filename string) error {
	busname := config.BusName
	if busname == "" {
		busname = defaultBusName
	}

	doc := document{
		Xmlns:  xmlNamespace,
		Xsi:    xsiNamespace,
		Schema: schemaLocation,
		Doc:    &struct{}{},
		Buses:  []busXML{{Name: busname}},
	}

	ids := make([]uint32, 0, len(config.FrameDefs))
	for id := range config.FrameDefs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		fd := config.FrameDefs[id]
		m := messageXML{
			Name: fd.Name,
			ID:   fmt.Sprintf("0x%03X", fd.FrameID),
		}
		if fd.DLC != 8 {
			m.Length = strconv.Itoa(fd.DLC)
		}
		if fd.CycleTime != nil {
			m.Interval = strconv.Itoa(*fd.CycleTime)
		}
		if fd.Format == canbus.Extended {
			m.Format = "extended"
		}

		for _, sigdef := range fd.Signals {
			m.Signals = append(m.Signals, renderSignalDefinition(sigdef))
		}

		if len(fd.ProducerIDs) > 0 {
			names := make([]string, 0, len(fd.ProducerIDs))
			for name := range fd.ProducerIDs {
				names = append(names, name)
			}
			sort.Strings(names)
			refs := make([]nodeRefXML, 0, len(names))
			for _, name := range names {
				refs = append(refs, nodeRefXML{ID: name})
			}
			m.Producer = &producerXML{NodeRefs: refs}
		}

		doc.Buses[0].Messages = append(doc.Buses[0].Messages, m)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("kcd: encoding %s: %w", filename, err)
	}
	out = append([]byte(xml.Header), out...)
	if err := os.WriteFile(filename, out, 0o644); err != nil {
		return fmt.Errorf("kcd: writing %s: %w", filename, err)
	}
	return nil
}

func renderSignalDefinition(s *signal.Definition) signalXML {
	out := signalXML{
		Name:   s.Name,
		Offset: s.StartBit,
	}
	if s.NumBits > 1 {
		out.Length = strconv.Itoa(s.NumBits)
	}
	if s.Endianness == signal.Big {
		out.Endianness = "big"
	}
	if s.Comment != "" {
		out.Notes = s.Comment
	}

	v := valueXML{}
	hasValue := false
	if math.Abs(s.Scale-1) > floatComparisonEpsilon {
		v.Slope = strconv.FormatFloat(s.Scale, 'g', -1, 64)
		hasValue = true
	}
	if math.Abs(s.Offset) > floatComparisonEpsilon {
		v.Intercept = strconv.FormatFloat(s.Offset, 'g', -1, 64)
		hasValue = true
	}
	if s.Type != signal.Unsigned {
		v.Type = s.Type.String()
		hasValue = true
	}
	if s.Unit != "" {
		v.Unit = s.Unit
		hasValue = true
	}
	if s.Min != nil {
		v.Min = strconv.FormatFloat(*s.Min, 'g', -1, 64)
		hasValue = true
	}
	if s.Max != nil {
		v.Max = strconv.FormatFloat(*s.Max, 'g', -1, 64)
		hasValue = true
	}
	if hasValue {
		out.Value = &v
	}
	return out
}

