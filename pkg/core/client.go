package core

import "time"

// EmailClient describes a renderable target environment, e.g. "gmail-web"
// or "outlook-desktop". Read-mostly reference data; many Screenshots
// reference one EmailClient.
type EmailClient struct {
	ID       string `gorm:"primaryKey;size:64"`
	Vendor   string `gorm:"size:255"`
	Engine   string `gorm:"size:255"` // Rendering engine: blink, webkit, word, gecko
	Platform string `gorm:"size:64"`  // web, desktop, ios, android

	SupportsDarkMode    bool `gorm:"default:false"`
	SupportsResponsive  bool `gorm:"default:true"`
	SupportsInteractive bool `gorm:"default:false"`

	// AutomationConfig carries the driver-specific settings a worker needs to
	// launch this client, serialized as JSON. Opaque to the scheduler.
	AutomationConfig []byte `gorm:"type:bytes"`

	Active    bool      `gorm:"index;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
