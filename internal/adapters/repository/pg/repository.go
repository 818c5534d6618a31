package pg

import (
	"context"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/ports"
)

// Controller is a row of the controller table managed by the NMS API.
type Controller struct {
	ID      uint   `gorm:"primaryKey"`
	APIIP   string `gorm:"column:api_ip"`
	APIPort int    `gorm:"column:api_port"`
}

func (Controller) TableName() string { return "controller" }

// Topology is a row of the topology table. The poller only reads it.
type Topology struct {
	ID                  uint   `gorm:"primaryKey"`
	Name                string `gorm:"column:name"`
	PrimaryControllerID *uint  `gorm:"column:primary_controller"`
	BackupControllerID  *uint  `gorm:"column:backup_controller"`
	APIServiceBaseURL   string `gorm:"column:apiservice_baseurl"`

	Primary *Controller `gorm:"foreignKey:PrimaryControllerID"`
	Backup  *Controller `gorm:"foreignKey:BackupControllerID"`
}

func (Topology) TableName() string { return "topology" }

// Descriptor converts the row into the addressing record handed to the worker.
func (t Topology) Descriptor() domain.TopologyDescriptor {
	d := domain.TopologyDescriptor{
		Name:              t.Name,
		APIServiceBaseURL: t.APIServiceBaseURL,
	}
	if t.Primary != nil {
		d.ControllerIPActive = t.Primary.APIIP
	}
	if t.Backup != nil {
		d.ControllerIPPassive = t.Backup.APIIP
	}
	return d
}

type Repository struct {
	db *gorm.DB
}

var _ ports.TopologyRepository = (*Repository)(nil)

// NewRepository opens the NMS database. The schema is owned by the NMS API so
// no migration runs here.
func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) ListTopologies(ctx context.Context) ([]domain.TopologyDescriptor, error) {
	var rows []Topology
	if err := r.db.WithContext(ctx).
		Preload("Primary").
		Preload("Backup").
		Order("name asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.TopologyDescriptor, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Descriptor())
	}
	return out, nil
}

// DB returns the underlying gorm.DB for health checks
func (r *Repository) DB() *gorm.DB {
	return r.db
}
