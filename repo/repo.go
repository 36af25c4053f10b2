package repo

import (
	"crypto/sha256"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strconv"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/multiformats/go-multihash"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/database/sqlitedb"
	"github.com/tradebay/escrowd/models"
	"github.com/tyler-smith/go-bip39"
)

const (
	// defaultRepoVersion is the current repo version used for migrations.
	defaultRepoVersion = 0

	// versionFileName is the name of the version file.
	versionFileName = "version"
)

var log = logging.MustGetLogger("REPO")

// Repo is a representation of an escrowd data directory.
// In this we store:
// - The escrowd.conf file
// - The escrowd database
// - A wallet directory which holds wallet plugin data
type Repo struct {
	db      database.Database
	dataDir string
}

// NewRepo returns a new Repo for the given data directory. It will
// be initialized if it is not already.
func NewRepo(dataDir string) (*Repo, error) {
	return newRepo(dataDir, "", false)
}

// NewRepoWithCustomMnemonicSeed behaves the same as NewRepo but allows
// the caller to pass in a custom mnemonic seed. This is useful for
// restoring a node from seed.
func NewRepoWithCustomMnemonicSeed(dataDir, mnemonic string) (*Repo, error) {
	return newRepo(dataDir, mnemonic, false)
}

// IsInitialized returns whether a repo exists at the given data
// directory.
func IsInitialized(dataDir string) bool {
	_, err := os.Stat(path.Join(dataDir, versionFileName))
	return err == nil
}

// DB returns the database implementation.
func (r *Repo) DB() database.Database {
	return r.db
}

// DataDir returns the data directory associated with this repo.
func (r *Repo) DataDir() string {
	return r.dataDir
}

// Close will close the repo and associated databases.
func (r *Repo) Close() {
	r.db.Close()
}

// DestroyRepo deletes the entire directory. Do NOT use this unless you
// are positive you want to wipe all data.
func (r *Repo) DestroyRepo() error {
	if err := r.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(r.dataDir)
}

// writeVersion writes the version number to file.
func (r *Repo) writeVersion(version int) error {
	versionStr := strconv.Itoa(version)
	return ioutil.WriteFile(path.Join(r.dataDir, versionFileName), []byte(versionStr), os.ModePerm)
}

func newRepo(dataDir, mnemonicSeed string, inMemoryDB bool) (*Repo, error) {
	var (
		dbIdentity, dbEscrowKey, dbMnemonic *models.Key
		err                                 error
		isNew                               bool
	)
	if err := checkWriteable(dataDir); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path.Join(dataDir, versionFileName)); os.IsNotExist(err) {
		if mnemonicSeed == "" {
			mnemonicSeed, err = createMnemonic(bip39.NewEntropy, bip39.NewMnemonic)
			if err != nil {
				return nil, err
			}
		}

		seed := bip39.NewSeed(mnemonicSeed, "")
		identityKey, escrowKey, err := createHDKeys(seed)
		if err != nil {
			return nil, err
		}

		dbIdentity = &models.Key{
			Name:  models.KeyIdentity,
			Value: identityKey.Serialize(),
		}
		dbEscrowKey = &models.Key{
			Name:  models.KeyEscrow,
			Value: escrowKey.Serialize(),
		}
		dbMnemonic = &models.Key{
			Name:  models.KeyMnemonic,
			Value: []byte(mnemonicSeed),
		}
		isNew = true
	}

	var db database.Database
	if inMemoryDB {
		db, err = sqlitedb.NewMemoryDB()
	} else {
		db, err = sqlitedb.NewSqliteDB(dataDir)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}

	if err := autoMigrateDatabase(db); err != nil {
		return nil, errors.Wrap(err, "error migrating database")
	}

	err = db.Update(func(tx database.Tx) error {
		if dbIdentity != nil {
			if err := tx.Save(dbIdentity); err != nil {
				return err
			}
		}
		if dbEscrowKey != nil {
			if err := tx.Save(dbEscrowKey); err != nil {
				return err
			}
		}
		if dbMnemonic != nil {
			if err := tx.Save(dbMnemonic); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r := &Repo{
		dataDir: dataDir,
		db:      db,
	}
	if isNew {
		if err := r.writeVersion(defaultRepoVersion); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadIdentity reads the identity and escrow keys back out of the
// database and returns the node's peer ID along with them.
func (r *Repo) LoadIdentity() (peerID string, identityKey, escrowKey *btcec.PrivateKey, err error) {
	err = r.db.View(func(tx database.Tx) error {
		var identity, escrow models.Key
		if err := tx.Read().Where("name = ?", models.KeyIdentity).First(&identity).Error; err != nil {
			return err
		}
		if err := tx.Read().Where("name = ?", models.KeyEscrow).First(&escrow).Error; err != nil {
			return err
		}
		identityKey, _ = btcec.PrivKeyFromBytes(btcec.S256(), identity.Value)
		escrowKey, _ = btcec.PrivKeyFromBytes(btcec.S256(), escrow.Value)
		return nil
	})
	if err != nil {
		return "", nil, nil, err
	}
	peerID, err = IdentityFromKey(identityKey)
	if err != nil {
		return "", nil, nil, err
	}
	return peerID, identityKey, escrowKey, nil
}

// IdentityFromKey returns the peer ID for the identity key. The ID is
// the base58 multihash of the compressed public key so any party
// holding the key can verify it.
func IdentityFromKey(key *btcec.PrivateKey) (string, error) {
	h := sha256.Sum256(key.PubKey().SerializeCompressed())
	encoded, err := multihash.Encode(h[:], multihash.SHA2_256)
	if err != nil {
		return "", err
	}
	mh, err := multihash.Cast(encoded)
	if err != nil {
		return "", err
	}
	return mh.B58String(), nil
}

func checkWriteable(dir string) error {
	_, err := os.Stat(dir)
	if err == nil {
		// Directory exists, make sure we can write to it
		testfile := path.Join(dir, "test")
		fi, err := os.Create(testfile)
		if err != nil {
			if os.IsPermission(err) {
				return fmt.Errorf("%s is not writeable by the current user", dir)
			}
			return fmt.Errorf("unexpected error while checking writeablility of repo root: %s", err)
		}
		fi.Close()
		return os.Remove(testfile)
	}

	if os.IsNotExist(err) {
		// Directory does not exist, check that we can create it
		return os.MkdirAll(dir, 0775)
	}

	if os.IsPermission(err) {
		return fmt.Errorf("cannot write to %s, incorrect permissions", err)
	}

	return err
}

func createMnemonic(newEntropy func(int) ([]byte, error), newMnemonic func([]byte) (string, error)) (string, error) {
	entropy, err := newEntropy(128)
	if err != nil {
		return "", err
	}
	mnemonic, err := newMnemonic(entropy)
	if err != nil {
		return "", err
	}
	return mnemonic, nil
}

// createHDKeys derives the identity and escrow keys from the seed.
// Both live under a single hardened purpose branch so the whole node
// can be restored from the mnemonic alone.
func createHDKeys(seed []byte) (identityKey, escrowKey *btcec.PrivateKey, err error) {
	masterPrivKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, nil, err
	}

	purpose, err := masterPrivKey.Child(hdkeychain.HardenedKeyStart + 209)
	if err != nil {
		return nil, nil, err
	}

	identityHDKey, err := purpose.Child(0)
	if err != nil {
		return nil, nil, err
	}

	escrowHDKey, err := purpose.Child(1)
	if err != nil {
		return nil, nil, err
	}

	identityKey, err = identityHDKey.ECPrivKey()
	if err != nil {
		return nil, nil, err
	}

	escrowKey, err = escrowHDKey.ECPrivKey()
	if err != nil {
		return nil, nil, err
	}

	return identityKey, escrowKey, nil
}

func autoMigrateDatabase(db database.Database) error {
	dbModels := []interface{}{
		&models.Key{},
		&models.OutgoingMessage{},
		&models.IncomingMessage{},
		&models.Order{},
		&models.Case{},
	}

	return db.Update(func(tx database.Tx) error {
		for _, m := range dbModels {
			if err := tx.Migrate(m); err != nil {
				return err
			}
		}
		return nil
	})
}
