/*
Copyright 2025 Klaspay Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/klaspay/klaspay"
	"github.com/klaspay/klaspay/config"
	"github.com/klaspay/klaspay/database"
	"github.com/klaspay/klaspay/internal/notification"
)

// Klaspay represents the CLI application, encapsulating the root Cobra command.
type Klaspay struct {
	cmd *cobra.Command
}

// klaspayInstance holds the runtime instance and configuration shared by the
// CLI subcommands.
type klaspayInstance struct {
	klaspay *klaspay.Klaspay
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the Klaspay instance before
// running any command.
func preRun(app *klaspayInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("klaspay.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newKlaspay, err := setupKlaspay(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.klaspay = newKlaspay
		app.cnf = cnf

		return nil
	}
}

// setupKlaspay creates and initializes a new Klaspay instance based on the
// provided configuration, connecting to the backing data source.
func setupKlaspay(cfg *config.Configuration) (*klaspay.Klaspay, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return &klaspay.Klaspay{}, fmt.Errorf("error getting datasource: %v", err)
	}

	newKlaspay, err := klaspay.NewKlaspay(db)
	if err != nil {
		return &klaspay.Klaspay{}, fmt.Errorf("error creating klaspay: %v", err)
	}
	return newKlaspay, nil
}

// NewCLI creates the command-line interface for the Klaspay application.
// It sets up the root command and the server, workers and migrate subcommands.
func NewCLI() *Klaspay {
	var configFile string
	k := &klaspayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "klaspay",
		Short: "Webhook idempotency and payment processing engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./klaspay.json", "Configuration file for klaspay")

	rootCmd.PersistentPreRunE = preRun(k)

	rootCmd.AddCommand(serverCommands(k))
	rootCmd.AddCommand(workerCommands(k))
	rootCmd.AddCommand(migrateCommands(k))

	return &Klaspay{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Klaspay) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
