package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	vsName string
	vsYes  bool
)

func init() {
	rootCmd.AddCommand(vectorStoreCmd)
	vectorStoreCmd.AddCommand(vsCreateCmd, vsUploadCmd, vsSyncCmd, vsListCmd, vsStatusCmd, vsDeleteCmd)

	vsCreateCmd.Flags().StringVar(&vsName, "name", "", "Store name (defaults to vector_store.name)")
	vsDeleteCmd.Flags().BoolVarP(&vsYes, "yes", "y", false, "Do not ask for confirmation")
}

var vectorStoreCmd = &cobra.Command{
	Use:   "vector-store",
	Short: "Manage the OpenAI vector store holding the study material",
}

var vsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the vector store, or report the existing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		name := vsName
		if name == "" {
			name = a.Config.VectorStore.Name
		}
		id, err := a.VectorStore.Create(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Vector store: %s\n", id)
		return nil
	},
}

var vsUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload every study-material file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.VectorStore.Upload(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d files.\n", len(ids))
		return nil
	},
}

var vsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload new and changed files and remove deleted ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.VectorStore.Sync(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, res)
		}
		fmt.Fprintf(out, "Added %d, updated %d, removed %d, unchanged %d\n",
			len(res.Added), len(res.Updated), len(res.Removed), len(res.Unchanged))
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  error: %s\n", e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d files failed to sync", len(res.Errors))
		}
		return nil
	},
}

var vsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List files recorded as uploaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.VectorStore.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, files)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tFILE ID\tSIZE\tUPLOADED")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.Name, f.FileID, f.SizeBytes, f.UploadedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var vsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local and remote vector store state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.VectorStore.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, st)
		}
		if !st.Configured {
			fmt.Fprintf(out, "No vector store configured. %d local files ready to upload.\n", st.LocalFileCount)
			return nil
		}
		fmt.Fprintf(out, "Store: %s (%s)\n", st.VectorStoreID, st.StoreStatus)
		fmt.Fprintf(out, "Local files: %d  Tracked: %d\n", st.LocalFileCount, st.TrackedFileCount)
		if st.StoreFileCounts != nil {
			c := st.StoreFileCounts
			fmt.Fprintf(out, "Remote files: %d total, %d completed, %d in progress, %d failed\n",
				c.Total, c.Completed, c.InProgress, c.Failed)
		}
		if st.LastSync != nil {
			fmt.Fprintf(out, "Last sync: %s\n", st.LastSync.Format("2006-01-02 15:04:05"))
		}
		if st.StoreError != "" {
			fmt.Fprintf(out, "Remote error: %s\n", st.StoreError)
		}
		return nil
	},
}

var vsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the vector store and its uploaded files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !vsYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete the vector store and every uploaded file?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		if err := a.VectorStore.Delete(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Vector store deleted.")
		return nil
	},
}
