package httpapi

import (
	"net/http"
	"strings"

	"custodia.org/internal/audit"
	"custodia.org/internal/obs"
	"custodia.org/internal/staking"
)

type initializePoolRequest struct {
	Authority  string `json:"authority"`
	RewardRate int64  `json:"reward_rate"`
}

type stakeRequest struct {
	Owner      string `json:"owner"`
	Amount     int64  `json:"amount"`
	LockPeriod string `json:"lock_period"`
}

type unstakeRequest struct {
	Owner  string `json:"owner"`
	Amount int64  `json:"amount"`
}

type rewardsRequest struct {
	Owner string `json:"owner"`
}

func (a *API) handleStakingPools(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.initializePool(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleStakingPoolResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/staking/pools/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case rest == "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		pool, err := a.staking.GetPool(r.Context(), id)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pool)
	case rest == "stake":
		a.stake(w, r, id)
	case rest == "unstake":
		a.unstake(w, r, id)
	case rest == "claim":
		a.claimRewards(w, r, id)
	case rest == "compound":
		a.compoundRewards(w, r, id)
	case strings.HasPrefix(rest, "positions/"):
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		owner := strings.TrimPrefix(rest, "positions/")
		if owner == "" || strings.Contains(owner, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		pos, err := a.staking.GetPosition(r.Context(), id, owner)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pos)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) initializePool(w http.ResponseWriter, r *http.Request) {
	var req initializePoolRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := a.actor(r, req.Authority)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	pool, err := a.staking.InitializePool(r.Context(), authority, req.RewardRate)
	obs.ObserveEngineOp("staking", "initialize_pool", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "staking.pool.initialize", map[string]any{
		"pool_id":   pool.ID,
		"authority": pool.Authority,
	})
	w.Header().Set("Location", "/v1/staking/pools/"+pool.ID)
	writeJSON(w, http.StatusCreated, pool)
}

func (a *API) stake(w http.ResponseWriter, r *http.Request, poolID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req stakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := a.actor(r, req.Owner)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}
	lock, err := staking.ParseLockPeriod(req.LockPeriod)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := a.staking.Stake(r.Context(), poolID, owner, req.Amount, lock)
	obs.ObserveEngineOp("staking", "stake", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	if pool, perr := a.staking.GetPool(r.Context(), poolID); perr == nil {
		a.publishMovement("staking", "stake", owner, pool.HoldingID, req.Amount, pool.RewardCurrency)
	}
	_ = audit.LogEvent(r.Context(), "staking.stake", map[string]any{
		"pool_id": poolID,
		"amount":  req.Amount,
		"tier":    pos.Tier.String(),
	})
	writeJSON(w, http.StatusOK, pos)
}

func (a *API) unstake(w http.ResponseWriter, r *http.Request, poolID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req unstakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := a.actor(r, req.Owner)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}

	pos, err := a.staking.Unstake(r.Context(), poolID, owner, req.Amount)
	obs.ObserveEngineOp("staking", "unstake", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	if pool, perr := a.staking.GetPool(r.Context(), poolID); perr == nil {
		a.publishMovement("staking", "unstake", pool.HoldingID, owner, req.Amount, pool.RewardCurrency)
	}
	_ = audit.LogEvent(r.Context(), "staking.unstake", map[string]any{
		"pool_id": poolID,
		"amount":  req.Amount,
	})
	writeJSON(w, http.StatusOK, pos)
}

func (a *API) claimRewards(w http.ResponseWriter, r *http.Request, poolID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req rewardsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := a.actor(r, req.Owner)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	amount, err := a.staking.ClaimRewards(r.Context(), poolID, owner)
	obs.ObserveEngineOp("staking", "claim", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	if pool, perr := a.staking.GetPool(r.Context(), poolID); perr == nil {
		a.publishMovement("staking", "claim", pool.HoldingID, owner, amount, pool.RewardCurrency)
	}
	_ = audit.LogEvent(r.Context(), "staking.claim", map[string]any{
		"pool_id": poolID,
		"amount":  amount,
	})
	writeJSON(w, http.StatusOK, map[string]any{"claimed": amount})
}

func (a *API) compoundRewards(w http.ResponseWriter, r *http.Request, poolID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req rewardsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := a.actor(r, req.Owner)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	pos, err := a.staking.CompoundRewards(r.Context(), poolID, owner)
	obs.ObserveEngineOp("staking", "compound", err)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "staking.compound", map[string]any{
		"pool_id": poolID,
		"staked":  pos.AmountStaked,
	})
	writeJSON(w, http.StatusOK, pos)
}
