package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	_ "github.com/lib/pq"
)

var (
	ErrNotConnected = errors.New("not connected to database, use Connect() or check if DB is accessible")
)

type DbSettings struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
}

type DB struct {
	Settings DbSettings
	pdb      *sql.DB
	connStr  string
}

func NewDB(s DbSettings) *DB {
	connStr := fmt.Sprintf("postgresql://%s:%s@%s/%s?sslmode=disable", s.User, s.Password, s.Host, s.Name)

	return &DB{
		Settings: s,
		connStr:  connStr,
	}
}

func (db *DB) Connect() (*DB, error) {
	pdb, err := sql.Open("postgres", db.connStr)
	if err != nil {
		return nil, err
	}

	db.pdb = pdb
	return db, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pdb.PingContext(ctx)
}

func (db *DB) IsConnected() bool {
	if db.pdb == nil {
		return false
	} else {
		return db.pdb.Ping() == nil
	}
}

const createDDL = `CREATE TABLE IF NOT EXISTS call_results (
	chain text NOT NULL,
	block bigint NOT NULL,
	timestamp timestamptz,
	contract text NOT NULL,
	func text NOT NULL,
	success boolean NOT NULL,
	result text
)`

// CreateTable creates the results table if it does not exist. Results
// here are raw payloads keyed by call, so the schema is fixed.
func (db DB) CreateTable(ctx context.Context) error {
	if db.pdb == nil {
		return ErrNotConnected
	}

	_, err := db.pdb.ExecContext(ctx, createDDL)
	return err
}

func (db DB) InsertResult(ctx context.Context, chain types.Chain, res types.CallResult) error {
	if db.pdb == nil {
		return ErrNotConnected
	}

	_, err := db.pdb.ExecContext(ctx,
		`INSERT INTO call_results (chain, block, timestamp, contract, func, success, result) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(chain), res.Block, res.Timestamp, res.Call.Address.Hex(), res.Call.FuncName, res.Success, hexutil.Encode(res.Result),
	)

	return err
}
