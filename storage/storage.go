// Package storage persists reports.
//
// A report is stored as four JSON documents (general, spamassassin,
// authentication and rbl) under a generated ID and the recipient the
// message was sent to. The recipient names the account the report
// belongs to.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverSpool    = "spool"
	DriverNone     = "none"
)

// Documents are the parts of a report, each a JSON document.
type Documents struct {
	General        json.RawMessage
	SpamAssassin   json.RawMessage
	Authentication json.RawMessage
	RBL            json.RawMessage
}

func (d Documents) named() []namedDoc {
	return []namedDoc{
		{"general", d.General},
		{"spamassassin", d.SpamAssassin},
		{"authentication", d.Authentication},
		{"rbl", d.RBL},
	}
}

type namedDoc struct {
	name string
	doc  json.RawMessage
}

// Store saves reports.
type Store interface {
	// Save stores docs for recipient and returns the report ID.
	Save(ctx context.Context, recipient string, docs Documents) (string, error)
	Close() error
}

// Config describes one store.
type Config struct {
	Driver string `json:"driver" validate:"oneof=mysql postgres sqlite3 spool none"`

	// DSN is the data source name of the SQL drivers.
	DSN string `json:"dsn"`

	// Dir is the directory of the spool driver.
	Dir string `json:"dir"`

	// Init creates the tables of a SQL store when they are missing.
	Init bool `json:"init"`
}

// Check reports settings the driver needs but lacks.
func (c Config) Check() error {
	switch c.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
		if c.DSN == "" {
			return fmt.Errorf("storage: driver %s needs a dsn", c.Driver)
		}
	case DriverSpool:
		if c.Dir == "" {
			return fmt.Errorf("storage: driver %s needs a dir", c.Driver)
		}
	}
	return nil
}

// Open opens one store per config. Several stores are combined into a
// Multi, none yields Discard.
func Open(cfgs ...Config) (Store, error) {
	var stores Multi
	for _, c := range cfgs {
		s, err := open(c)
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		if s != nil {
			stores = append(stores, s)
		}
	}

	switch len(stores) {
	case 0:
		return Discard{}, nil
	case 1:
		return stores[0], nil
	default:
		return stores, nil
	}
}

func open(c Config) (Store, error) {
	if err := c.Check(); err != nil {
		return nil, err
	}

	switch c.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
		s, err := OpenSQL(c.Driver, c.DSN)
		if err != nil {
			return nil, err
		}
		if c.Init {
			if err := s.Init(context.Background()); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	case DriverSpool:
		return NewSpool(c.Dir)
	case DriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", c.Driver)
	}
}

// Discard drops every report.
type Discard struct{}

func (Discard) Save(context.Context, string, Documents) (string, error) { return "", nil }
func (Discard) Close() error                                          { return nil }

// Multi saves every report to all of its stores.
type Multi []Store

// Save returns the ID given by the first store. Every store is tried; the
// errors are combined.
func (m Multi) Save(ctx context.Context, recipient string, docs Documents) (string, error) {
	var (
		id     string
		result *multierror.Error
	)
	for _, s := range m {
		sid, err := s.Save(ctx, recipient, docs)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if id == "" {
			id = sid
		}
	}
	return id, result.ErrorOrNil()
}

func (m Multi) Close() error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
