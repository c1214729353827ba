package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/chainbound/scatter/db"
	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var csvHeader = []string{"chain", "block", "timestamp", "contract", "func", "success", "result"}

type OutputHandler struct {
	stdout bool
	csv    *csv.Writer
	db     *db.DB
}

func NewOutputHandler() *OutputHandler {
	return &OutputHandler{}
}

func (o *OutputHandler) WithDB(db *db.DB) *OutputHandler {
	o.db = db
	return o
}

func (o *OutputHandler) WithStdOut() *OutputHandler {
	o.stdout = true
	return o
}

// WithCsv writes results to the given file, creating it with the fixed
// header.
func (o *OutputHandler) WithCsv(path string) (*OutputHandler, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	w.Flush()

	o.csv = w
	return o, nil
}

func (o OutputHandler) HandleResult(ctx context.Context, chain types.Chain, res types.CallResult) error {
	if o.stdout {
		fmt.Printf("%s block=%d %s %s success=%t result=%s\n",
			chain, res.Block, res.Call.Address.Hex(), res.Call.FuncName, res.Success, hexutil.Encode(res.Result))
	}

	if o.db != nil {
		if err := o.db.InsertResult(ctx, chain, res); err != nil {
			return err
		}
	}

	if o.csv != nil {
		entry := []string{
			string(chain),
			fmt.Sprint(res.Block),
			res.Timestamp.String(),
			res.Call.Address.Hex(),
			res.Call.FuncName,
			fmt.Sprint(res.Success),
			hexutil.Encode(res.Result),
		}

		if err := o.csv.Write(entry); err != nil {
			return err
		}

		o.csv.Flush()
	}

	return nil
}
