/*
Package cli provides helpers shared by the cooldown command.

Output Formatting:

Commands print results as aligned text, JSON or CSV. Tabular results
implement Table:

	formatter := cli.NewFormatter(cli.FormatCSV)
	if err := formatter.FormatTo(os.Stdout, records); err != nil {
		return err
	}

Signal Handling:

SIGINT and SIGTERM cancel the returned context. SIGCONT and SIGHUP are
delivered on Resume and Reload so the service can reconcile cooldowns after
a suspend and reload policies:

	ctx, sigs := cli.SetupSignalHandler(context.Background())
	defer sigs.Stop()
*/
package cli
