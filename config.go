package nqsim

// config.go holds the serializable description of an experiment and
// the functions that read and write it.  Serialization to json or to
// yaml is selected based on file extension.  Structural problems in a
// configuration abort setup: a silently repaired configuration would
// not reproduce the experiment the user described.

import (
	"encoding/json"
	"errors"
	"fmt"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
	"os"
	"path"
	"strings"
)

// DiscTypes lists the queue disc types a configuration may name
var DiscTypes []string = []string{"fq", "cobalt", "pie"}

// QueueDiscCfg describes one queue disc.  Which parameter block
// applies depends on DiscType; a fair-queueing disc also names the
// type of its per-flow child discs
type QueueDiscCfg struct {
	Name     string `json:"name" yaml:"name"`
	DiscType string `json:"disctype" yaml:"disctype"`

	Fq     FqParams     `json:"fq" yaml:"fq"`
	Cobalt CobaltParams `json:"cobalt" yaml:"cobalt"`
	Pie    PieParams    `json:"pie" yaml:"pie"`

	// child disc type for a fair-queueing disc, "cobalt" or "pie"
	ChildType string `json:"childtype" yaml:"childtype"`
}

// DevCfg describes one device and the disc attached to it
type DevCfg struct {
	Name    string  `json:"name" yaml:"name"`
	Bndwdth float64 `json:"bndwdth" yaml:"bndwdth"` // Mbits/sec
	MTU     int     `json:"mtu" yaml:"mtu"`
	Limit   int     `json:"limit" yaml:"limit"` // transmit ring depth
	Quota   int     `json:"quota" yaml:"quota"` // driver dequeues per run

	Disc QueueDiscCfg `json:"disc" yaml:"disc"`
}

// SrcCfg binds a traffic source to the device it feeds
type SrcCfg struct {
	Device string           `json:"device" yaml:"device"`
	Src    TrafficSrcParams `json:"src" yaml:"src"`
}

// ExpCfg is the whole experiment description
type ExpCfg struct {
	Name     string   `json:"name" yaml:"name"`
	StopTime float64  `json:"stoptime" yaml:"stoptime"` // seconds
	Trace    bool     `json:"trace" yaml:"trace"`
	Devices  []DevCfg `json:"devices" yaml:"devices"`
	Srcs     []SrcCfg `json:"srcs" yaml:"srcs"`
}

// CreateExpCfg is an initialization constructor
func CreateExpCfg(name string) *ExpCfg {
	xc := new(ExpCfg)
	xc.Name = name
	xc.Devices = make([]DevCfg, 0)
	xc.Srcs = make([]SrcCfg, 0)
	return xc
}

// AddDevice appends a device description to the experiment
func (xc *ExpCfg) AddDevice(dev DevCfg) {
	xc.Devices = append(xc.Devices, dev)
}

// AddSrc appends a traffic source description to the experiment
func (xc *ExpCfg) AddSrc(src SrcCfg) {
	xc.Srcs = append(xc.Srcs, src)
}

// validate panics on structural problems a run could not survive.
// Parameter-level validation happens in the disc constructors
func (xc *ExpCfg) validate() {
	if xc.StopTime <= 0.0 {
		panic(fmt.Sprintf("experiment %s has no positive stop time", xc.Name))
	}

	devNames := make([]string, 0)
	for _, dev := range xc.Devices {
		if slices.Contains(devNames, dev.Name) {
			panic(fmt.Sprintf("device name %s over-used in experiment %s", dev.Name, xc.Name))
		}
		devNames = append(devNames, dev.Name)

		if !slices.Contains(DiscTypes, dev.Disc.DiscType) {
			panic(fmt.Sprintf("device %s names unknown disc type %s", dev.Name, dev.Disc.DiscType))
		}
		if dev.Disc.DiscType == "fq" {
			childType := dev.Disc.ChildType
			if childType == "" {
				childType = "cobalt"
			}
			if !slices.Contains([]string{"cobalt", "pie"}, childType) {
				panic(fmt.Sprintf("device %s names unknown child disc type %s", dev.Name, childType))
			}
		}
	}

	for _, src := range xc.Srcs {
		if !slices.Contains(devNames, src.Device) {
			panic(fmt.Sprintf("source %s feeds unknown device %s", src.Src.Name, src.Device))
		}
	}
}

// WriteToFile stores the ExpCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (xc *ExpCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*xc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*xc, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()

	return werr
}

// ReadExpCfg deserializes a byte slice holding a representation of an
// ExpCfg struct.  If the input argument of dict (those bytes) is empty,
// the file whose name is given is read to acquire them.  A deserialized
// representation is returned, or an error if one is generated from a
// file read or the deserialization.
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file
	// whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExpCfg{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// ReadExpCfgFromFile reads an experiment configuration, choosing the
// deserializer from the file extension
func ReadExpCfgFromFile(filename string) (*ExpCfg, error) {
	ext := path.Ext(filename)
	useYAML := (ext == ".yaml") || (ext == ".yml")
	return ReadExpCfg(filename, useYAML, nil)
}

// ReportErrs accepts a list of errors and returns one that concatenates
// the non-nil messages among them
func ReportErrs(errs []error) error {
	msgs := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, ","))
}
