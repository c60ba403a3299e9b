package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/pressly/goose/v3"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
	"github.com/ariefcatur/go-lms-enrollment/internal/postgres"
)

var (
	gooseRunFunc postgres.GooseRunFunc = goose.RunContext // mockable

	errHelp = errors.New("help provided")
)

type orderAdmin interface {
	CancelTransaction(ctx context.Context, id string, force bool) (enrollment.Transaction, error)
	TransactionByOrder(ctx context.Context, orderID string) (enrollment.Transaction, error)
}

type commandLine struct {
	db     *sql.DB
	orders orderAdmin
	out    io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]           - run a goose command (up, down, status, up-to VERSION, ...)")
	fmt.Fprintln(cli.out, "  cancel-order -id ID [-force]     - delete a transaction; -force also deletes settled ones")
	fmt.Fprintln(cli.out, "  show-order -order ORDER_ID       - print the transaction for a gateway order")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	cancelCmd := flag.NewFlagSet("cancel-order", flag.ContinueOnError)
	cancelCmd.SetOutput(cli.out)
	cancelID := cancelCmd.String("id", "", "The transaction id.")
	cancelForce := cancelCmd.Bool("force", false, "Delete even if the payment already settled. Enrollments are kept.")

	showCmd := flag.NewFlagSet("show-order", flag.ContinueOnError)
	showCmd.SetOutput(cli.out)
	showOrder := showCmd.String("order", "", "The gateway order id.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return postgres.RunMigrations(ctx, gooseRunFunc, cli.db, args[2], args[3:]...)

	case "cancel-order":
		if err := cancelCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *cancelID == "" {
			cancelCmd.Usage()
			return errHelp
		}
		return cli.cancelOrder(ctx, *cancelID, *cancelForce)

	case "show-order":
		if err := showCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *showOrder == "" {
			showCmd.Usage()
			return errHelp
		}
		return cli.showOrder(ctx, *showOrder)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) cancelOrder(ctx context.Context, id string, force bool) error {
	t, err := cli.orders.CancelTransaction(ctx, id, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deleted transaction %s (order %s, status %s)\n", t.ID, t.OrderID, t.PaymentStatus)
	return nil
}

func (cli *commandLine) showOrder(ctx context.Context, orderID string) error {
	t, err := cli.orders.TransactionByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}
