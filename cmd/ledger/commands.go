package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flashLedger/internal/borrower"
	"flashLedger/internal/chain"
	"flashLedger/internal/config"
	"flashLedger/internal/flash"
	"flashLedger/internal/host"
	"flashLedger/internal/ledger"
	"flashLedger/internal/model"
	"flashLedger/internal/token"
)

// withApp opens the ledger, runs fn and persists state when fn succeeds
// and mutates.
func withApp(cmd *cobra.Command, mutates bool, fn func(ctx context.Context, a *app) error) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := fn(ctx, a); err != nil {
		return err
	}
	if !mutates {
		return nil
	}
	return a.save(ctx)
}

func addressFlag(cmd *cobra.Command, name string) (common.Address, error) {
	value, _ := cmd.Flags().GetString(name)
	if value == "" {
		return common.Address{}, fmt.Errorf("--%s is required", name)
	}
	addr, err := config.ParseAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the pool program",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deployer, err := addressFlag(cmd, "deployer")
			if err != nil {
				return err
			}
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				if err := a.svc.Initialize(ctx, deployer); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "program %s initialized by %s\n", a.svc.Program().Hex(), deployer.Hex())
				return nil
			})
		},
	}
	cmd.Flags().String("deployer", "", "deployer address, becomes owner of every pool")
	return cmd
}

func newFaucetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faucet",
		Short: "Mint a local reserve asset to an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asset, err := addressFlag(cmd, "asset")
			if err != nil {
				return err
			}
			to, err := addressFlag(cmd, "to")
			if err != nil {
				return err
			}
			amount, _ := cmd.Flags().GetUint64("amount")
			decimals, _ := cmd.Flags().GetUint8("decimals")
			symbol, _ := cmd.Flags().GetString("symbol")

			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				auth := a.faucetAuthority(asset)
				info, ok := a.host.Asset(asset)
				if !ok {
					info = host.AssetInfo{Address: asset, Decimals: decimals, MintAuthority: auth.Address(), Symbol: symbol}
					if err := a.host.RegisterAsset(ctx, info); err != nil {
						return err
					}
				}
				if err := a.host.MintTo(ctx, asset, to, amount, auth); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "minted %s to %s, balance %s\n",
					formatAmount(amount, info.Decimals), to.Hex(),
					formatAmount(a.host.BalanceOf(asset, to), info.Decimals))
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.String("asset", "", "asset address")
	flags.String("to", "", "recipient address")
	flags.Uint64("amount", 0, "amount in base units")
	flags.Uint8("decimals", 6, "decimals when the asset is first registered")
	flags.String("symbol", "", "symbol when the asset is first registered")
	return cmd
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pool for a reserve asset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reserve, err := addressFlag(cmd, "reserve")
			if err != nil {
				return err
			}
			decimals, _ := cmd.Flags().GetUint8("decimals")
			explicit := cmd.Flags().Changed("decimals")

			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				info, known := a.host.Asset(reserve)
				if !known {
					info = host.AssetInfo{Address: reserve, Decimals: decimals, MintAuthority: a.faucetAuthority(reserve).Address()}
					if a.cfg.RPCURL != "" {
						meta, err := fetchReserveMeta(ctx, a, reserve)
						if err != nil {
							return err
						}
						if explicit && meta.Decimals != decimals {
							return fmt.Errorf("token has %d decimals, got %d: %w", meta.Decimals, decimals, ledger.ErrDecimalsMismatch)
						}
						info.Decimals, info.Symbol, info.Name = meta.Decimals, meta.Symbol, meta.Name
					}
					if err := a.host.RegisterAsset(ctx, info); err != nil {
						return err
					}
				}
				if !explicit {
					decimals = info.Decimals
				}

				pool, err := a.svc.CreatePool(ctx, reserve, decimals)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pool %s\n  reserve  %s\n  shares   %s\n  decimals %d\n",
					pool.ID.Hex(), pool.ReserveAsset.Hex(), pool.ShareAsset.Hex(), pool.Decimals)
				return nil
			})
		},
	}
	cmd.Flags().String("reserve", "", "reserve asset address")
	cmd.Flags().Uint8("decimals", 6, "reserve decimals")
	return cmd
}

func fetchReserveMeta(ctx context.Context, a *app, reserve common.Address) (model.TokenMeta, error) {
	client, err := chain.NewClient(ctx, a.cfg.RPCURL)
	if err != nil {
		return model.TokenMeta{}, fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return model.TokenMeta{}, fmt.Errorf("get chain id: %w", err)
	}
	policy := chain.RetryPolicy{MaxRetries: a.cfg.MaxRetries, Backoff: a.cfg.RetryBackoff}
	meta, err := token.NewMetaCache().Resolve(ctx, client, reserve, policy, a.logger)
	if err != nil {
		return model.TokenMeta{}, err
	}
	a.logger.Info("reserve metadata",
		zap.String("reserve", reserve.Hex()),
		zap.String("chain_id", chainID.String()),
		zap.String("symbol", meta.Label()),
		zap.Uint8("decimals", meta.Decimals),
	)
	return meta, nil
}

func newDepositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit reserve into a pool for shares",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := addressFlag(cmd, "user")
			if err != nil {
				return err
			}
			reserve, err := addressFlag(cmd, "reserve")
			if err != nil {
				return err
			}
			amount, _ := cmd.Flags().GetUint64("amount")

			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				shares, err := a.svc.Deposit(ctx, user, reserve, amount)
				if err != nil {
					return err
				}
				pool, _ := a.svc.Pool(reserve)
				fmt.Fprintf(cmd.OutOrStdout(), "deposited %s, minted %s shares\n",
					formatAmount(amount, pool.Decimals), formatAmount(shares, pool.Decimals))
				return nil
			})
		},
	}
	cmd.Flags().String("user", "", "depositor address")
	cmd.Flags().String("reserve", "", "reserve asset address")
	cmd.Flags().Uint64("amount", 0, "reserve amount in base units")
	return cmd
}

func newWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Burn shares for reserve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := addressFlag(cmd, "user")
			if err != nil {
				return err
			}
			reserve, err := addressFlag(cmd, "reserve")
			if err != nil {
				return err
			}
			shares, _ := cmd.Flags().GetUint64("shares")
			all, _ := cmd.Flags().GetBool("all")
			if all == cmd.Flags().Changed("shares") {
				return fmt.Errorf("exactly one of --shares or --all is required")
			}

			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				var amount uint64
				var err error
				if all {
					shares, amount, err = a.svc.WithdrawAll(ctx, user, reserve)
				} else {
					amount, err = a.svc.Withdraw(ctx, user, reserve, shares)
				}
				if err != nil {
					return err
				}
				pool, _ := a.svc.Pool(reserve)
				fmt.Fprintf(cmd.OutOrStdout(), "burned %s shares, received %s\n",
					formatAmount(shares, pool.Decimals), formatAmount(amount, pool.Decimals))
				return nil
			})
		},
	}
	cmd.Flags().String("user", "", "share holder address")
	cmd.Flags().String("reserve", "", "reserve asset address")
	cmd.Flags().Uint64("shares", 0, "shares to burn")
	cmd.Flags().Bool("all", false, "burn every share the user holds")
	return cmd
}

func newLendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lend",
		Short: "Flash-lend reserve to a borrower program",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := addressFlag(cmd, "user")
			if err != nil {
				return err
			}
			reserve, err := addressFlag(cmd, "reserve")
			if err != nil {
				return err
			}
			program := borrower.DefaultProgramID
			if value, _ := cmd.Flags().GetString("borrower"); value != "" {
				if program, err = config.ParseAddress(value); err != nil {
					return fmt.Errorf("--borrower: %w", err)
				}
			}
			amount, _ := cmd.Flags().GetUint64("amount")

			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				attempt, err := a.coord.LendAndCall(ctx, flash.Request{
					Reserve:         reserve,
					User:            user,
					BorrowerProgram: program,
					BorrowerAccount: borrower.AccountCapability(program, reserve).Address,
					Amount:          amount,
				})
				if attempt != nil {
					a.logger.Info("flash loan",
						zap.String("id", attempt.ID.String()),
						zap.Stringer("state", attempt.State),
						zap.Uint64("principal", attempt.Principal),
						zap.Uint64("fee", attempt.Fee),
					)
				}
				if err != nil {
					return err
				}
				pool, _ := a.svc.Pool(reserve)
				fmt.Fprintf(cmd.OutOrStdout(), "loan %s settled: principal %s, fee %s, surplus %s\n",
					attempt.ID, formatAmount(attempt.Principal, pool.Decimals),
					formatAmount(attempt.Fee, pool.Decimals), formatAmount(attempt.Surplus, pool.Decimals))
				return nil
			})
		},
	}
	cmd.Flags().String("user", "", "initiating user address")
	cmd.Flags().String("reserve", "", "reserve asset address")
	cmd.Flags().String("borrower", "", "borrower program id (defaults to the built-in sample)")
	cmd.Flags().Uint64("amount", 0, "principal in base units")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a user's position in a pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := addressFlag(cmd, "user")
			if err != nil {
				return err
			}
			reserve, err := addressFlag(cmd, "reserve")
			if err != nil {
				return err
			}
			return withApp(cmd, false, func(_ context.Context, a *app) error {
				pos, err := a.svc.Balance(user, reserve)
				if err != nil {
					return err
				}
				pool, _ := a.svc.Pool(reserve)
				fmt.Fprintf(cmd.OutOrStdout(), "shares     %s\nredeemable %s\nwallet     %s\n",
					formatAmount(pos.Shares, pool.Decimals),
					formatAmount(pos.Redeemable, pool.Decimals),
					formatAmount(pos.Reserve, pool.Decimals))
				return nil
			})
		},
	}
	cmd.Flags().String("user", "", "user address")
	cmd.Flags().String("reserve", "", "reserve asset address")
	return cmd
}

func newPoolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "List pools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(_ context.Context, a *app) error {
				for _, pool := range a.svc.Ledger().Pools() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s reserve=%s supply=%s balance=%s fees=%s created %s\n",
						pool.ID.Hex(), pool.ReserveAsset.Hex(),
						formatAmount(pool.ShareSupply, pool.Decimals),
						formatAmount(pool.ReserveBalance, pool.Decimals),
						formatAmount(pool.FeeBalance, pool.Decimals),
						humanize.Time(time.Unix(pool.CreatedAt, 0)))
				}
				return nil
			})
		},
	}
}

func newFeesCmd() *cobra.Command {
	fees := &cobra.Command{
		Use:   "fees",
		Short: "Inspect and withdraw flash loan fees",
	}

	balance := &cobra.Command{
		Use:   "balance",
		Short: "Show a pool's accrued fees",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reserve, err := addressFlag(cmd, "reserve")
			if err != nil {
				return err
			}
			return withApp(cmd, false, func(_ context.Context, a *app) error {
				amount, err := a.svc.FeesBalance(reserve)
				if err != nil {
					return err
				}
				pool, _ := a.svc.Pool(reserve)
				fmt.Fprintf(cmd.OutOrStdout(), "fees %s\n", formatAmount(amount, pool.Decimals))
				return nil
			})
		},
	}
	balance.Flags().String("reserve", "", "reserve asset address")

	withdraw := &cobra.Command{
		Use:   "withdraw",
		Short: "Sweep a pool's fees to a collector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, err := addressFlag(cmd, "admin")
			if err != nil {
				return err
			}
			reserve, err := addressFlag(cmd, "reserve")
			if err != nil {
				return err
			}
			collector, err := addressFlag(cmd, "collector")
			if err != nil {
				return err
			}
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				amount, err := a.svc.WithdrawFees(ctx, admin, reserve, collector)
				if err != nil {
					return err
				}
				pool, _ := a.svc.Pool(reserve)
				fmt.Fprintf(cmd.OutOrStdout(), "withdrew %s fees to %s\n", formatAmount(amount, pool.Decimals), collector.Hex())
				return nil
			})
		},
	}
	withdraw.Flags().String("admin", "", "pool owner address")
	withdraw.Flags().String("reserve", "", "reserve asset address")
	withdraw.Flags().String("collector", "", "fee recipient address")

	fees.AddCommand(balance, withdraw)
	return fees
}
