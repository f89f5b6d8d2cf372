// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package statuscode decodes NVMe completion status codes into short
// human-readable descriptions, loaded from an embedded YAML table the
// same way the teacher's cmd/mkdrivedb loads its drive quirks table.
package statuscode

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v2"
)

//go:embed statuscodes.yaml
var rawTable []byte

type entry struct {
	Code uint16 `yaml:"code"`
	Name string `yaml:"name"`
}

var byCode map[uint16]string

func init() {
	var entries []entry
	if err := yaml.Unmarshal(rawTable, &entries); err != nil {
		// The table is compiled into the binary; a decode failure here
		// means the embedded asset is corrupt, not a runtime condition.
		panic(fmt.Sprintf("statuscode: cannot decode embedded table: %v", err))
	}

	byCode = make(map[uint16]string, len(entries))
	for _, e := range entries {
		byCode[e.Code] = e.Name
	}
}

// Describe returns a short description of a 15-bit NVMe status field
// (phase tag already stripped — see CQE layout, §6). The lookup uses
// the SCT+SC bits (10:0) only; the CRD, More and DNR bits are ignored.
// Unknown codes return "unknown status".
func Describe(status uint16) string {
	if name, ok := byCode[status&0x7FF]; ok {
		return name
	}
	return "unknown status"
}
