// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package store provides durable persistence for devices, plants, sensor
readings and water events

Every write goes straight to postgres and is durable before the call
returns, callers may depend on read-after-write. Readings and water
events are append-only, each accepted write gets a distinct row.
Concurrency is left entirely to the database, the store itself holds no
mutable state beyond the connection pool.
*/
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/verdantech/plantcare/core"
	"github.com/verdantech/plantcare/core/csql"
)

// Store is the ground-truth persistence for the plantcare backend.
type Store struct {
	db *csql.DB
}

// MustNew creates the sql relations (if they do not exist) and returns
// the store. The device_id columns on reading and water_event are
// deliberately not foreign keys: current policy admits readings from
// unregistered devices.
func MustNew(db *csql.DB) *Store {

	// poor man's database migrations
	_, err := db.Exec(`CREATE extension IF NOT EXISTS "uuid-ossp";
CREATE table IF NOT EXISTS ` + db.Schema + `.device
(device_id varchar NOT NULL,
token varchar NOT NULL,
owner varchar NOT NULL DEFAULT '',
created_at timestamp NOT NULL DEFAULT now(),
PRIMARY KEY(device_id)
);
CREATE table IF NOT EXISTS ` + db.Schema + `.plant
(plant_id uuid NOT NULL DEFAULT uuid_generate_v4(),
name varchar NOT NULL,
species varchar NOT NULL,
stage varchar NOT NULL DEFAULT '',
device_id varchar NOT NULL DEFAULT '',
metadata json NOT NULL DEFAULT '{}'::json,
created_at timestamp NOT NULL DEFAULT now(),
PRIMARY KEY(plant_id)
);
CREATE table IF NOT EXISTS ` + db.Schema + `.reading
(reading_id uuid NOT NULL DEFAULT uuid_generate_v4(),
timestamp timestamp NOT NULL,
device_id varchar NOT NULL,
species varchar NOT NULL DEFAULT '',
soil_moisture double precision,
air_temp_c double precision,
air_humidity_pct double precision,
light_lux double precision,
extra json NOT NULL DEFAULT '{}'::json,
PRIMARY KEY(reading_id)
);
CREATE index IF NOT EXISTS reading_device_timestamp_index ON ` + db.Schema + `.reading(device_id, timestamp DESC);
CREATE table IF NOT EXISTS ` + db.Schema + `.water_event
(event_id uuid NOT NULL DEFAULT uuid_generate_v4(),
timestamp timestamp NOT NULL,
device_id varchar NOT NULL,
method varchar NOT NULL,
reason varchar NOT NULL DEFAULT '',
metadata json NOT NULL DEFAULT '{}'::json,
PRIMARY KEY(event_id)
);
CREATE index IF NOT EXISTS water_event_device_timestamp_index ON ` + db.Schema + `.water_event(device_id, timestamp DESC);
`)

	if err != nil {
		panic(err)
	}

	return &Store{db: db}
}

// CreateDevice provisions a new device. The device_id must be unique.
func (s *Store) CreateDevice(ctx context.Context, d Device) (Device, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.device(device_id,token,owner)
VALUES($1,$2,$3) RETURNING created_at;`,
		d.DeviceID, d.Token, d.Owner).Scan(&d.CreatedAt)
	if err != nil {
		return Device{}, &core.PersistenceError{Op: "create device", Err: err}
	}
	return d, nil
}

// GetDevice returns the device record, or nil if the device is not
// registered.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	d := Device{}
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id,token,owner,created_at FROM `+s.db.Schema+`.device WHERE device_id=$1;`,
		deviceID).Scan(&d.DeviceID, &d.Token, &d.Owner, &d.CreatedAt)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RotateDeviceToken replaces the device's auth token. This is the only
// mutation a device record supports after provisioning.
func (s *Store) RotateDeviceToken(ctx context.Context, deviceID, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+s.db.Schema+`.device SET token=$2 WHERE device_id=$1;`,
		deviceID, token)
	if err != nil {
		return &core.PersistenceError{Op: "rotate device token", Err: err}
	}
	count, err := res.RowsAffected()
	if err != nil {
		return &core.PersistenceError{Op: "rotate device token", Err: err}
	}
	if count == 0 {
		return core.ErrNotFound
	}
	return nil
}

// CreatePlant creates a plant record and returns it with its assigned id.
func (s *Store) CreatePlant(ctx context.Context, p Plant) (Plant, error) {
	if len(p.Metadata) == 0 {
		p.Metadata = []byte("{}")
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.plant(name,species,stage,device_id,metadata)
VALUES($1,$2,$3,$4,$5) RETURNING plant_id,created_at;`,
		p.Name, p.Species, p.Stage, p.DeviceID, string(p.Metadata)).Scan(&p.PlantID, &p.CreatedAt)
	if err != nil {
		return Plant{}, &core.PersistenceError{Op: "create plant", Err: err}
	}
	return p, nil
}

// GetPlant returns a plant by id, or nil if it does not exist.
func (s *Store) GetPlant(ctx context.Context, plantID uuid.UUID) (*Plant, error) {
	p := Plant{}
	err := s.db.QueryRowContext(ctx,
		`SELECT plant_id,name,species,stage,device_id,metadata,created_at FROM `+s.db.Schema+`.plant WHERE plant_id=$1;`,
		plantID).Scan(&p.PlantID, &p.Name, &p.Species, &p.Stage, &p.DeviceID, &p.Metadata, &p.CreatedAt)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlants returns all plant records, newest first.
func (s *Store) ListPlants(ctx context.Context) ([]Plant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plant_id,name,species,stage,device_id,metadata,created_at FROM `+s.db.Schema+`.plant ORDER BY created_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plants := []Plant{}
	for rows.Next() {
		p := Plant{}
		err := rows.Scan(&p.PlantID, &p.Name, &p.Species, &p.Stage, &p.DeviceID, &p.Metadata, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		plants = append(plants, p)
	}
	return plants, rows.Err()
}

// CreateReading appends a sensor reading and returns it with its
// assigned id. Nil sensor fields are stored as NULL, not as zero.
func (s *Store) CreateReading(ctx context.Context, r SensorReading) (SensorReading, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if len(r.Extra) == 0 {
		r.Extra = []byte("{}")
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.reading(timestamp,device_id,species,soil_moisture,air_temp_c,air_humidity_pct,light_lux,extra)
VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING reading_id;`,
		r.Timestamp, r.DeviceID, r.Species, r.SoilMoisture, r.AirTempC, r.AirHumidityPct, r.LightLux,
		string(r.Extra)).Scan(&r.ReadingID)
	if err != nil {
		return SensorReading{}, &core.PersistenceError{Op: "create reading", Err: err}
	}
	return r, nil
}

const readingColumns = `reading_id,timestamp,device_id,species,soil_moisture,air_temp_c,air_humidity_pct,light_lux,extra`

func scanReading(row interface{ Scan(...interface{}) error }) (SensorReading, error) {
	r := SensorReading{}
	var soil, temp, humidity, lux sql.NullFloat64
	err := row.Scan(&r.ReadingID, &r.Timestamp, &r.DeviceID, &r.Species,
		&soil, &temp, &humidity, &lux, &r.Extra)
	if err != nil {
		return r, err
	}
	r.SoilMoisture = nullableFloat(soil)
	r.AirTempC = nullableFloat(temp)
	r.AirHumidityPct = nullableFloat(humidity)
	r.LightLux = nullableFloat(lux)
	return r, nil
}

func nullableFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// LatestReading returns the most recent reading for the device, or nil
// if the device has no readings.
func (s *Store) LatestReading(ctx context.Context, deviceID string) (*SensorReading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM `+s.db.Schema+`.reading WHERE device_id=$1 ORDER BY timestamp DESC LIMIT 1;`,
		deviceID)
	r, err := scanReading(row)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ReadingHistory returns up to limit readings for the device, most
// recent first.
func (s *Store) ReadingHistory(ctx context.Context, deviceID string, limit int) ([]SensorReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM `+s.db.Schema+`.reading WHERE device_id=$1 ORDER BY timestamp DESC LIMIT $2;`,
		deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	readings := []SensorReading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// CreateWaterEvent appends a water event and returns it with its
// assigned id.
func (s *Store) CreateWaterEvent(ctx context.Context, e WaterEvent) (WaterEvent, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if len(e.Metadata) == 0 {
		e.Metadata = []byte("{}")
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.water_event(timestamp,device_id,method,reason,metadata)
VALUES($1,$2,$3,$4,$5) RETURNING event_id;`,
		e.Timestamp, e.DeviceID, string(e.Method), e.Reason, string(e.Metadata)).Scan(&e.EventID)
	if err != nil {
		return WaterEvent{}, &core.PersistenceError{Op: "create water event", Err: err}
	}
	return e, nil
}

// LatestWaterEvent returns the most recent water event for the device,
// or nil if the device was never watered.
func (s *Store) LatestWaterEvent(ctx context.Context, deviceID string) (*WaterEvent, error) {
	e := WaterEvent{}
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id,timestamp,device_id,method,reason,metadata FROM `+s.db.Schema+`.water_event
WHERE device_id=$1 ORDER BY timestamp DESC LIMIT 1;`,
		deviceID).Scan(&e.EventID, &e.Timestamp, &e.DeviceID, &e.Method, &e.Reason, &e.Metadata)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// WaterEventCount returns the number of water events recorded for the
// device.
func (s *Store) WaterEventCount(ctx context.Context, deviceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM `+s.db.Schema+`.water_event WHERE device_id=$1;`,
		deviceID).Scan(&count)
	return count, err
}
