package view

import (
	"context"
	"errors"
	"fmt"

	"github.com/cscannon/barter/internal/chain"
	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
)

// Builder projects matched orders into flat, display-ready rows. It only
// reads; orders are never mutated by display code.
type Builder struct {
	chain  chain.Blockchain
	orders store.OrderRepository
}

// NewBuilder creates a view builder for one blockchain.
func NewBuilder(bc chain.Blockchain, orders store.OrderRepository) *Builder {
	return &Builder{chain: bc, orders: orders}
}

// RenderMatches flattens orders into rows, preserving input order so the
// original order appears before its matched counterpart. With includeNested
// each row carries its match partners; partners that cannot be resolved are
// omitted rather than failing the view.
func (b *Builder) RenderMatches(ctx context.Context, orders []*models.Order, includeNested bool) ([]models.OrderRow, error) {
	byID := make(map[string]*models.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}

	rows := make([]models.OrderRow, 0, len(orders))
	for _, o := range orders {
		row := models.OrderRow{
			Source:      o.Source,
			Status:      string(o.Status),
			ContractBuy: o.BuyContract,
			OrderType:   b.orderType(o),
		}
		if includeNested {
			row.MatchWith = make([]models.MatchRow, 0, len(o.MatchedWith))
			for _, edge := range o.MatchedWith {
				partner, err := b.resolve(ctx, byID, edge.CounterOrderID)
				if err != nil {
					return nil, err
				}
				if partner == nil {
					continue
				}
				std := chain.StandardFor(partner.SellSpecifier)
				row.MatchWith = append(row.MatchWith, models.MatchRow{
					Source:    partner.Source,
					TokenSell: std.DisplayToken(partner.SellContract, partner.SellSpecifier),
				})
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// orderType labels the side the order takes on the named asset: selling the
// chain's native currency for a token is a BUY of that token.
func (b *Builder) orderType(o *models.Order) string {
	if b.chain.IsNative(o.SellContract) {
		return "BUY"
	}
	return "SELL"
}

func (b *Builder) resolve(ctx context.Context, byID map[string]*models.Order, id string) (*models.Order, error) {
	if o, ok := byID[id]; ok {
		return o, nil
	}
	o, err := b.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve match partner: %w", err)
	}
	return o, nil
}
