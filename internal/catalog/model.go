package catalog

import (
	"time"

	"gorm.io/datatypes"
)

// FrameRecord is the latest stored state of one frame.
type FrameRecord struct {
	ChildFrameID  string `gorm:"primaryKey;size:255"`
	ParentFrameID string `gorm:"size:255;not null;index"`
	TX            float64
	TY            float64
	TZ            float64
	RX            float64
	RY            float64
	RZ            float64
	RW            float64
	Activity      string `gorm:"size:16"`
	UpdatedAt     time.Time
}

// TableName overrides the gorm default.
func (*FrameRecord) TableName() string {
	return "frames"
}

// MarkerRecord is a marker created at runtime, recreated on the next start.
type MarkerRecord struct {
	Name        string `gorm:"primaryKey;size:255"`
	SpawnFrame  string `gorm:"size:255;not null"`
	InitialPose datatypes.JSON
	Visual      datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides the gorm default.
func (*MarkerRecord) TableName() string {
	return "markers"
}

// Models lists every table the catalog migrates.
var Models = []any{
	&FrameRecord{},
	&MarkerRecord{},
}
