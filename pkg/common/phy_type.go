package common

import "fmt"

type PhyType int

const (
	NA     PhyType = 0
	BOOL   PhyType = 1
	INT8   PhyType = 3
	INT16  PhyType = 5
	INT32  PhyType = 7
	INT64  PhyType = 9
	FLOAT  PhyType = 11
	DOUBLE PhyType = 12

	INVALID PhyType = 255
)

var pTypeToStr = map[PhyType]string{
	NA:      "NA",
	BOOL:    "BOOL",
	INT8:    "INT8",
	INT16:   "INT16",
	INT32:   "INT32",
	INT64:   "INT64",
	FLOAT:   "FLOAT",
	DOUBLE:  "DOUBLE",
	INVALID: "INVALID",
}

func (pt PhyType) String() string {
	if s, has := pTypeToStr[pt]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", pt))
}

func (pt PhyType) Size() int {
	switch pt {
	case BOOL, INT8:
		return 1
	case INT16:
		return 2
	case INT32, FLOAT:
		return 4
	case INT64, DOUBLE:
		return 8
	default:
		panic(fmt.Sprintf("usp %d", pt))
	}
}
