package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/store"
)

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Manage saved-query cards",
}

var cardsListCmd = &cobra.Command{
	Use:   "list [account]",
	Short: "List cards",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var cards []model.Card
		if len(args) == 1 {
			cards, err = st.ListCards(args[0])
		} else {
			cards, err = st.ListAllCards()
		}
		if err != nil {
			return fmt.Errorf("list cards: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POS\tID\tACCOUNT\tNAME\tQUERY\tGROUP BY")
		for _, c := range cards {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				c.Position, c.ID, c.AccountID, c.Name, c.Query, c.GroupBy)
		}
		return w.Flush()
	},
}

var (
	cardQuery   string
	cardGroupBy string
)

var cardsAddCmd = &cobra.Command{
	Use:   "add <account> <name>",
	Short: "Add a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		existing, err := st.ListCards(args[0])
		if err != nil {
			return fmt.Errorf("list cards: %w", err)
		}

		card := model.NewCard(args[0], args[1], cardQuery, len(existing))
		if cardGroupBy != "" {
			card.GroupBy = model.GroupBy(cardGroupBy)
		}
		if err := st.InsertCard(card); err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		fmt.Printf("Created card %s (%s)\n", card.Name, card.ID)
		return nil
	},
}

var cardsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a card and its cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		card, err := st.GetCard(args[0])
		if err != nil {
			return fmt.Errorf("get card: %w", err)
		}
		if card == nil {
			return fmt.Errorf("card %s not found", args[0])
		}
		if err := st.DeleteCard(card.ID); err != nil {
			return fmt.Errorf("delete card: %w", err)
		}
		fmt.Printf("Removed card %s (%s)\n", card.Name, card.ID)
		return nil
	},
}

func init() {
	cardsAddCmd.Flags().StringVarP(&cardQuery, "query", "q", "", "saved query (e.g. \"in:inbox is:unread\")")
	cardsAddCmd.Flags().StringVar(&cardGroupBy, "group-by", "", "grouping dimension (date, sender, tag)")
	cardsCmd.AddCommand(cardsListCmd, cardsAddCmd, cardsRemoveCmd)
	rootCmd.AddCommand(cardsCmd)
}

// openStore opens the database and ensures the schema exists.
func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return st, nil
}
