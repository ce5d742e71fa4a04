package main

import (
	"errors"

	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type demoCard struct {
	scryfallId string
	name       string
	setCode    string
	number     string
	finish     models.CardFinish
	count      int
}

var demoLoose = []demoCard{
	{"a3b1cf05-lightning-bolt", "Lightning Bolt", "m11", "149", models.CardFinishNonfoil, 4},
	{"a3b1cf05-lightning-bolt", "Lightning Bolt", "m11", "149", models.CardFinishFoil, 1},
	{"c0f2d8e1-counterspell", "Counterspell", "mh2", "267", models.CardFinishNonfoil, 2},
	{"f9e4ab20-llanowar-elves", "Llanowar Elves", "dom", "168", models.CardFinishNonfoil, 3},
	{"7d1c9a44-sol-ring", "Sol Ring", "", "", models.CardFinishEtched, 1},
}

var demoDeck = []demoCard{
	{"c0f2d8e1-counterspell", "Counterspell", "mh2", "267", models.CardFinishNonfoil, 4},
	{"e2a7b310-brainstorm", "Brainstorm", "sta", "13", models.CardFinishFoil, 2},
}

func newSeedDemoCmd() *cobra.Command {
	var ownerId string
	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Seed a small demo collection and deck for one owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerId == "" {
				return errors.New("--owner-id is required")
			}
			db, err := connect()
			if err != nil {
				return err
			}
			if err := models.MigrateTables(db); err != nil {
				return err
			}
			ctx := utils.SetOwnerIdInContext(cmd.Context(), ownerId)

			var deckId string
			err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				deck, err := models.CreateUserDeck(ctx, tx, ownerId, &models.NewUserDeck{Name: "Demo Tempo", Colors: "U"})
				if err != nil {
					return err
				}
				deckId = deck.ID

				cards := make([]models.UserCard, 0, len(demoLoose)+len(demoDeck))
				for _, c := range demoLoose {
					cards = append(cards, c.userCard(ownerId, nil))
				}
				for _, c := range demoDeck {
					cards = append(cards, c.userCard(ownerId, &deck.ID))
				}
				return tx.Create(&cards).Error
			})
			if err != nil {
				return err
			}
			cmd.Printf("seeded %d loose and %d deck stacks for owner %s (deck %s)\n",
				len(demoLoose), len(demoDeck), ownerId, deckId)
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerId, "owner-id", "", "owner to seed")
	return cmd
}

func (c demoCard) userCard(ownerId string, deckId *string) models.UserCard {
	return models.UserCard{
		OwnerId:         ownerId,
		DeckId:          deckId,
		ScryfallId:      c.scryfallId,
		Name:            c.name,
		SetCode:         c.setCode,
		CollectorNumber: c.number,
		Finish:          c.finish,
		Count:           c.count,
	}
}
