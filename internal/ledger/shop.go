package ledger

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/repository"
)

// Inventory возвращает предметы пользователя.
func (s *Service) Inventory(ctx context.Context, userID int64) (map[string]int64, error) {
	a, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.Inventory, nil
}

// Shop возвращает ассортимент магазина.
func (s *Service) Shop(ctx context.Context) ([]model.ShopItem, error) {
	items, err := s.repo.ListShopItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shop items: %w", err)
	}
	return items, nil
}

// TradeResult - результат покупки или продажи.
type TradeResult struct {
	Item     string
	Quantity int64
	Total    int64
	Held     int64
	Balance  model.Balance
}

// Buy покупает quantity единиц товара по текущей цене.
func (s *Service) Buy(ctx context.Context, userID int64, itemName string, quantity int64) (TradeResult, error) {
	if quantity <= 0 {
		return TradeResult{}, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidAmount)
	}

	var res TradeResult

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		item, err := tx.ShopItem(ctx, itemName)
		if err != nil {
			return err
		}
		a, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}

		total, err := tradeTotal(quantity, item.Price)
		if err != nil {
			return err
		}
		if held := a.Inventory[item.Name]; held > math.MaxInt64-quantity {
			return fmt.Errorf("%w: %s held %d, buying %d", model.ErrInvalidAmount, item.Name, held, quantity)
		}
		if a.Cash < total {
			return fmt.Errorf("%w: have %d, price %d", model.ErrInsufficientCashFunds, a.Cash, total)
		}

		if !item.Unlimited() {
			if *item.Stock < quantity {
				return fmt.Errorf("%w: %s has %d left", model.ErrOutOfStock, item.Name, *item.Stock)
			}
			*item.Stock -= quantity
			if err := tx.SaveShopItem(ctx, item); err != nil {
				return err
			}
		}

		a.Cash -= total
		a.Inventory[item.Name] += quantity

		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}

		res = TradeResult{
			Item:     item.Name,
			Quantity: quantity,
			Total:    total,
			Held:     a.Inventory[item.Name],
			Balance:  model.BalanceOf(a),
		}
		return nil
	})

	return res, err
}

// Sell продаёт quantity единиц товара по текущей цене магазина.
func (s *Service) Sell(ctx context.Context, userID int64, itemName string, quantity int64) (TradeResult, error) {
	if quantity <= 0 {
		return TradeResult{}, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidAmount)
	}

	var res TradeResult

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		item, err := tx.ShopItem(ctx, itemName)
		if err != nil {
			return err
		}
		a, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}

		if held := a.Inventory[item.Name]; held < quantity {
			return fmt.Errorf("%w: %s held %d, selling %d", model.ErrInsufficientItems, item.Name, held, quantity)
		}

		total, err := tradeTotal(quantity, item.Price)
		if err != nil {
			return err
		}
		if a.Cash > 0 && a.Cash > math.MaxInt64-total {
			return fmt.Errorf("%w: cash %d cannot take %d more", model.ErrInvalidAmount, a.Cash, total)
		}
		a.Inventory[item.Name] -= quantity
		a.Cash += total

		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}

		res = TradeResult{
			Item:     item.Name,
			Quantity: quantity,
			Total:    total,
			Held:     a.Inventory[item.Name],
			Balance:  model.BalanceOf(a),
		}
		return nil
	})

	return res, err
}

// UseResult - результат использования предмета.
type UseResult struct {
	Item      string
	Remaining int64
	// Role пуста, если предмет не даёт роли.
	Role string
}

// UseItem расходует одну единицу предмета и, если у товара есть роль, выдаёт её.
// Роль выдаётся после фиксации списания; если выдать её не удалось, предмет возвращается.
func (s *Service) UseItem(ctx context.Context, userID int64, itemName string) (UseResult, error) {
	var (
		res  UseResult
		role string
	)

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		item, err := tx.ShopItem(ctx, itemName)
		if err != nil {
			return err
		}
		a, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}

		if a.Inventory[item.Name] < 1 {
			return fmt.Errorf("%w: no %s to use", model.ErrInsufficientItems, item.Name)
		}

		a.Inventory[item.Name]--
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}

		res = UseResult{Item: item.Name, Remaining: a.Inventory[item.Name]}
		role = ""
		if item.Role != nil {
			role = *item.Role
		}
		return nil
	})
	if err != nil || role == "" {
		return res, err
	}

	if err := s.roles.GrantRole(ctx, userID, role); err != nil {
		s.returnItem(ctx, userID, res.Item)
		return UseResult{}, fmt.Errorf("grant role: %w", err)
	}
	res.Role = role
	return res, nil
}

// returnItem возвращает единицу предмета после неудачной выдачи роли.
func (s *Service) returnItem(ctx context.Context, userID int64, item string) {
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		a, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}
		a.Inventory[item]++
		return tx.SaveAccount(ctx, a)
	})
	if err != nil {
		s.logger.Error("failed to return item after role grant failure",
			zap.Int64("userID", userID),
			zap.String("item", item),
			zap.Error(err),
		)
	}
}

// tradeTotal возвращает quantity*price или ошибку, если произведение не помещается в int64.
func tradeTotal(quantity, price int64) (int64, error) {
	if price > 0 && quantity > math.MaxInt64/price {
		return 0, fmt.Errorf("%w: %d items at %d overflow the total", model.ErrInvalidAmount, quantity, price)
	}
	return quantity * price, nil
}
