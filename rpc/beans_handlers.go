package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bakedbeans/crypto"
	"bakedbeans/native/beans"
)

// Mutating calls carry a signature from the acting identity over the keccak
// hash of a canonical method payload, mirroring how the host runtime would
// check the transaction signer.

func signingPayload(method string, fields ...string) []byte {
	return ethcrypto.Keccak256([]byte(method + "|" + strings.Join(fields, "|")))
}

func verifySigner(signer crypto.Address, sigHex string, payload []byte) *handlerError {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return errInvalidParams("signature must be hex encoded")
	}
	if len(sig) != 65 {
		return errInvalidParams("signature must be 65 bytes")
	}
	pub, err := ethcrypto.SigToPub(payload, sig)
	if err != nil {
		return errInvalidParams("signature recovery failed")
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if crypto.NewAddress(recovered) != signer {
		return errUnauthorized("signature does not match the acting identity")
	}
	return nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) *handlerError {
	if len(req.Params) != 1 {
		return errInvalidParams("expected a single parameter object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return errInvalidParams(fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, *handlerError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, errInvalidParams(fmt.Sprintf("invalid %s: %v", field, err))
	}
	return addr, nil
}

type initializeParams struct {
	Caller           string `json:"caller"`
	NewAuthority     string `json:"newAuthority"`
	DevAccount       string `json:"devAccount"`
	MarketingAccount string `json:"marketingAccount"`
	CeoAccount       string `json:"ceoAccount"`
	GiveawayAccount  string `json:"giveawayAccount"`
	Signature        string `json:"signature"`
}

func (s *Server) handleInitialize(req *RPCRequest) (interface{}, *handlerError) {
	var params initializeParams
	if hErr := decodeSingleParam(req, &params); hErr != nil {
		return nil, hErr
	}
	caller, hErr := parseAddress("caller", params.Caller)
	if hErr != nil {
		return nil, hErr
	}
	newAuthority, hErr := parseAddress("newAuthority", params.NewAuthority)
	if hErr != nil {
		return nil, hErr
	}
	dev, hErr := parseAddress("devAccount", params.DevAccount)
	if hErr != nil {
		return nil, hErr
	}
	marketing, hErr := parseAddress("marketingAccount", params.MarketingAccount)
	if hErr != nil {
		return nil, hErr
	}
	ceo, hErr := parseAddress("ceoAccount", params.CeoAccount)
	if hErr != nil {
		return nil, hErr
	}
	giveaway, hErr := parseAddress("giveawayAccount", params.GiveawayAccount)
	if hErr != nil {
		return nil, hErr
	}
	payload := signingPayload("beans_initialize",
		params.Caller, params.NewAuthority, params.DevAccount,
		params.MarketingAccount, params.CeoAccount, params.GiveawayAccount)
	if hErr := verifySigner(caller, params.Signature, payload); hErr != nil {
		return nil, hErr
	}
	if err := s.node.Initialize(caller.Bytes(), newAuthority.Bytes(), dev.Bytes(), marketing.Bytes(), ceo.Bytes(), giveaway.Bytes()); err != nil {
		return nil, errServer(err)
	}
	return map[string]bool{"ok": true}, nil
}

type initUserStateParams struct {
	Payer     string `json:"payer"`
	UserKey   string `json:"userKey"`
	Signature string `json:"signature"`
}

func (s *Server) handleInitUserState(req *RPCRequest) (interface{}, *handlerError) {
	var params initUserStateParams
	if hErr := decodeSingleParam(req, &params); hErr != nil {
		return nil, hErr
	}
	payer, hErr := parseAddress("payer", params.Payer)
	if hErr != nil {
		return nil, hErr
	}
	userKey, hErr := parseAddress("userKey", params.UserKey)
	if hErr != nil {
		return nil, hErr
	}
	payload := signingPayload("beans_initUserState", params.Payer, params.UserKey)
	if hErr := verifySigner(payer, params.Signature, payload); hErr != nil {
		return nil, hErr
	}
	if err := s.node.InitUserState(userKey.Bytes()); err != nil {
		return nil, errServer(err)
	}
	return map[string]bool{"ok": true}, nil
}

type buyBeansParams struct {
	User      string `json:"user"`
	RefUser   string `json:"refUser"`
	Amount    uint64 `json:"amount"`
	Signature string `json:"signature"`
}

func (s *Server) handleBuyBeans(req *RPCRequest) (interface{}, *handlerError) {
	var params buyBeansParams
	if hErr := decodeSingleParam(req, &params); hErr != nil {
		return nil, hErr
	}
	user, hErr := parseAddress("user", params.User)
	if hErr != nil {
		return nil, hErr
	}
	refUser, hErr := parseAddress("refUser", params.RefUser)
	if hErr != nil {
		return nil, hErr
	}
	payload := signingPayload("beans_buyBeans", params.User, params.RefUser, fmt.Sprintf("%d", params.Amount))
	if hErr := verifySigner(user, params.Signature, payload); hErr != nil {
		return nil, hErr
	}
	if err := s.node.BuyBeans(user.Bytes(), refUser.Bytes(), params.Amount); err != nil {
		return nil, errServer(err)
	}
	return map[string]bool{"ok": true}, nil
}

type bakeBeansParams struct {
	User         string `json:"user"`
	OnlyRebaking bool   `json:"onlyRebaking"`
	Signature    string `json:"signature"`
}

func (s *Server) handleBakeBeans(req *RPCRequest) (interface{}, *handlerError) {
	var params bakeBeansParams
	if hErr := decodeSingleParam(req, &params); hErr != nil {
		return nil, hErr
	}
	user, hErr := parseAddress("user", params.User)
	if hErr != nil {
		return nil, hErr
	}
	flag := "0"
	if params.OnlyRebaking {
		flag = "1"
	}
	payload := signingPayload("beans_bakeBeans", params.User, flag)
	if hErr := verifySigner(user, params.Signature, payload); hErr != nil {
		return nil, hErr
	}
	if err := s.node.BakeBeans(user.Bytes(), params.OnlyRebaking); err != nil {
		return nil, errServer(err)
	}
	return map[string]bool{"ok": true}, nil
}

type eatBeansParams struct {
	User      string `json:"user"`
	Signature string `json:"signature"`
}

func (s *Server) handleEatBeans(req *RPCRequest) (interface{}, *handlerError) {
	var params eatBeansParams
	if hErr := decodeSingleParam(req, &params); hErr != nil {
		return nil, hErr
	}
	user, hErr := parseAddress("user", params.User)
	if hErr != nil {
		return nil, hErr
	}
	payload := signingPayload("beans_eatBeans", params.User)
	if hErr := verifySigner(user, params.Signature, payload); hErr != nil {
		return nil, hErr
	}
	if err := s.node.EatBeans(user.Bytes()); err != nil {
		return nil, errServer(err)
	}
	return map[string]bool{"ok": true}, nil
}

// --- read-only queries ---

type globalStateView struct {
	Initialized      bool   `json:"initialized"`
	Authority        string `json:"authority"`
	Vault            string `json:"vault"`
	DevAccount       string `json:"devAccount"`
	MarketingAccount string `json:"marketingAccount"`
	GiveawayAccount  string `json:"giveawayAccount"`
	CeoAccount       string `json:"ceoAccount"`
	TotalBakers      uint64 `json:"totalBakers"`
}

func (s *Server) handleGetGlobalState(req *RPCRequest) (interface{}, *handlerError) {
	gs, err := s.node.GlobalState()
	if err != nil {
		return nil, errServer(err)
	}
	if gs == nil {
		return nil, errServer(beans.ErrNotInitialized)
	}
	return &globalStateView{
		Initialized:      gs.Initialized,
		Authority:        crypto.NewAddress(gs.Authority).String(),
		Vault:            crypto.NewAddress(gs.Vault).String(),
		DevAccount:       crypto.NewAddress(gs.DevAccount).String(),
		MarketingAccount: crypto.NewAddress(gs.MarketingAccount).String(),
		GiveawayAccount:  crypto.NewAddress(gs.GiveawayAccount).String(),
		CeoAccount:       crypto.NewAddress(gs.CeoAccount).String(),
		TotalBakers:      gs.TotalBakers,
	}, nil
}

type addressParams struct {
	Address string `json:"address"`
}

type userStateView struct {
	User                   string   `json:"user"`
	TotalDeposit           uint64   `json:"totalDeposit"`
	TotalPayout            uint64   `json:"totalPayout"`
	FirstDepositTime       uint64   `json:"firstDepositTime"`
	AteAt                  uint64   `json:"ateAt"`
	BakedAt                uint64   `json:"bakedAt"`
	Beans                  uint64   `json:"beans"`
	Upline                 string   `json:"upline,omitempty"`
	HasReferred            bool     `json:"hasReferred"`
	Referrals              []string `json:"referrals"`
	BonusEligibleReferrals []string `json:"bonusEligibleReferrals"`
}

func (s *Server) handleGetUserState(req *RPCRequest) (interface{}, *handlerError) {
	var params addressParams
	if hErr := decodeSingleParam(req, &params); hErr != nil {
		return nil, hErr
	}
	addr, hErr := parseAddress("address", params.Address)
	if hErr != nil {
		return nil, hErr
	}
	us, err := s.node.UserState(addr.Bytes())
	if err != nil {
		return nil, errServer(err)
	}
	if us == nil {
		return nil, errServer(beans.ErrUserNotFound)
	}
	view := &userStateView{
		User:                   crypto.NewAddress(us.User).String(),
		TotalDeposit:           us.TotalDeposit,
		TotalPayout:            us.TotalPayout,
		FirstDepositTime:       us.FirstDepositTime,
		AteAt:                  us.AteAt,
		BakedAt:                us.BakedAt,
		Beans:                  us.Beans,
		HasReferred:            us.HasReferred,
		Referrals:              make([]string, 0, len(us.Referrals)),
		BonusEligibleReferrals: make([]string, 0, len(us.BonusEligibleReferrals)),
	}
	if us.HasReferred {
		view.Upline = crypto.NewAddress(us.Upline).String()
	}
	for _, referral := range us.Referrals {
		view.Referrals = append(view.Referrals, crypto.NewAddress(referral).String())
	}
	for _, referral := range us.BonusEligibleReferrals {
		view.BonusEligibleReferrals = append(view.BonusEligibleReferrals, crypto.NewAddress(referral).String())
	}
	return view, nil
}

func (s *Server) handleGetBalance(req *RPCRequest) (interface{}, *handlerError) {
	var params addressParams
	if hErr := decodeSingleParam(req, &params); hErr != nil {
		return nil, hErr
	}
	addr, hErr := parseAddress("address", params.Address)
	if hErr != nil {
		return nil, hErr
	}
	balance, err := s.node.BalanceOf(addr.Bytes())
	if err != nil {
		return nil, errServer(err)
	}
	return map[string]uint64{"balance": balance}, nil
}
